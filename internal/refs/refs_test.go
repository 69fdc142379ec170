package refs

import (
	"reflect"
	"testing"

	"github.com/starford/specdex/internal/models"
)

func ids(list []models.Identifier) []string {
	out := make([]string, 0, len(list))
	for _, id := range list {
		out = append(out, id.String())
	}
	return out
}

func TestExtract_InlineOrderAndDedup(t *testing.T) {
	got := ids(Extract("Body text referencing C:Foo. Then R:Purpose, and C:Foo again.\n"))
	want := []string{"C:Foo", "R:Purpose"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestExtract_SkipsCode(t *testing.T) {
	body := "Uses `C:Example` inline and ``T:Double ` tick`` too.\n" +
		"```\nD:InFence\n```\n" +
		"Real D:Store.\n"
	got := ids(Extract(body))
	if !reflect.DeepEqual(got, []string{"D:Store"}) {
		t.Errorf("refs = %v, want [D:Store]", got)
	}
}

func TestExtract_UnclosedBacktickIsProse(t *testing.T) {
	got := ids(Extract("A stray ` then M:Run\n"))
	if !reflect.DeepEqual(got, []string{"M:Run"}) {
		t.Errorf("refs = %v, want [M:Run]", got)
	}
}

func TestExtract_ReferencesList(t *testing.T) {
	body := "Intro mentions T:0002.\n\n" +
		"**References:**\n" +
		"- `C:Parser`\n" +
		"* UI:Panel - the side panel\n" +
		"\n" +
		"1. TP:Smoke\n" +
		"- see also I:Api\n" +
		"Trailing prose with R:Late.\n"
	got := ids(Extract(body))
	want := []string{"T:0002", "C:Parser", "UI:Panel", "TP:Smoke", "I:Api", "R:Late"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("refs = %v, want %v", got, want)
	}
}

func TestExtract_FenceInsideReferencesList(t *testing.T) {
	body := "References:\n" +
		"- `C:Quoted`\n" +
		"```\n" +
		"- C:Fenced\n" +
		"```\n"
	got := ids(Extract(body))
	if !reflect.DeepEqual(got, []string{"C:Quoted"}) {
		t.Errorf("refs = %v, want [C:Quoted]", got)
	}
}

func TestExtract_SelfReferenceKept(t *testing.T) {
	got := ids(Extract("See R:Self for details.\n"))
	if len(got) != 1 || got[0] != "R:Self" {
		t.Errorf("refs = %v, want [R:Self]", got)
	}
}

func TestExtract_GluedPrefixIgnored(t *testing.T) {
	got := ids(Extract("Request PR:0001 and xR:Nope but (R:Yes).\n"))
	if !reflect.DeepEqual(got, []string{"R:Yes"}) {
		t.Errorf("refs = %v, want [R:Yes]", got)
	}
}

func TestExtract_LongestPrefix(t *testing.T) {
	got := Extract("TP:Login and T:Login\n")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != models.KindTest || got[1].Kind != models.KindTask {
		t.Errorf("kinds = %s, %s", got[0].Kind, got[1].Kind)
	}
}

func TestExtract_Empty(t *testing.T) {
	if got := Extract(""); len(got) != 0 {
		t.Errorf("refs = %v, want none", got)
	}
}

func TestPrivilegedRequests(t *testing.T) {
	body := "Needs PR:0001 and PR:0001 again, then PR:deploy-db.\n`PR:0009` is an example.\n"
	got := PrivilegedRequests(body)
	want := []string{"PR:0001", "PR:deploy-db"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("privileged = %v, want %v", got, want)
	}
}

func TestIsReferencesMarker(t *testing.T) {
	for _, s := range []string{"References:", "### References", "**References:**", "references:", "  Refs:"} {
		if !IsReferencesMarker(s) {
			t.Errorf("%q not recognised", s)
		}
	}
	for _, s := range []string{"References to C:Foo", "Reference", "- References:"} {
		if IsReferencesMarker(s) {
			t.Errorf("%q wrongly recognised", s)
		}
	}
}
