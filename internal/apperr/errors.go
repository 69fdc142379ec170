// Package apperr defines the error sentinels and validation issues shared
// across specdex packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInvalid    = errors.New("invalid input")
	ErrSuperseded = errors.New("superseded by a newer rebuild")
	ErrClosed     = errors.New("coordinator closed")
)

// IssueKind classifies a validation issue.
type IssueKind string

const (
	KindStructuralWarning IssueKind = "structural_parse_warning"
	KindDuplicate         IssueKind = "duplicate_identifier"
	KindUnresolved        IssueKind = "unresolved_reference"
	KindRebuildFailure    IssueKind = "rebuild_failure"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one entry of the validation listing. Identifier and Line are
// empty or zero when they do not apply.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Severity   string    `json:"severity"`
	Identifier string    `json:"identifier,omitempty"`
	Document   string    `json:"document,omitempty"`
	Line       int       `json:"line,omitempty"`
	Message    string    `json:"message"`
}

// String renders the issue as "document:line: kind: message".
func (i Issue) String() string {
	loc := i.Document
	if i.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, i.Line)
	}
	if loc == "" {
		return fmt.Sprintf("%s: %s", i.Kind, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", loc, i.Kind, i.Message)
}
