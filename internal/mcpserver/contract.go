package mcpserver

// ElementFormatContract describes how elements are written in Markdown so
// that LLM consumers can read and patch them correctly.
const ElementFormatContract = `# specdex Element Format Contract

specdex indexes Markdown documents. An **element** is a heading whose text
starts with a typed identifier, plus every line below it up to the next
element heading.

## Identifiers

| Prefix | Kind        | Example        |
|--------|-------------|----------------|
| ` + "`" + `R:` + "`" + `   | requirement | ` + "`" + `R:Purpose` + "`" + `    |
| ` + "`" + `C:` + "`" + `   | component   | ` + "`" + `C:Parser` + "`" + `     |
| ` + "`" + `D:` + "`" + `   | data        | ` + "`" + `D:Document` + "`" + `   |
| ` + "`" + `I:` + "`" + `   | interface   | ` + "`" + `I:Api` + "`" + `        |
| ` + "`" + `M:` + "`" + `   | method      | ` + "`" + `M:Lookup` + "`" + `     |
| ` + "`" + `UI:` + "`" + `  | ui          | ` + "`" + `UI:Sidebar` + "`" + `   |
| ` + "`" + `T:` + "`" + `   | task        | ` + "`" + `T:12` + "`" + `         |
| ` + "`" + `TP:` + "`" + `  | test        | ` + "`" + `TP:Roundtrip` + "`" + ` |

The name after the prefix starts with a letter or digit and continues with
letters, digits, ` + "`" + `_` + "`" + `, ` + "`" + `-` + "`" + ` or ` + "`" + `.` + "`" + `. Identifiers are case-sensitive.

## Structure

` + "```" + `markdown
## R:Purpose Keep specs searchable
Body text. References such as C:Parser or D:Document are picked up
anywhere in prose.

References:
- C:Parser
- T:12

## C:Parser
Implements R:Purpose.
` + "```" + `

## Rules

1. **Element headings** are ATX headings (` + "`" + `#` + "`" + ` to ` + "`" + `######` + "`" + `) whose text starts with an
   identifier. Any text after the identifier is the title.
2. **Bodies** run to the next element heading of any depth. Plain headings
   inside a body stay part of it.
3. **References** are identifiers in body prose. Identifiers inside inline code
   or fenced code blocks are ignored. Identifiers glued to a preceding word
   (` + "`" + `xR:Foo` + "`" + `) are ignored.
4. **Tasks** may carry a ` + "`" + `Status: pending|in-progress|completed` + "`" + ` line.
5. **Privileged requests** (` + "`" + `PR:name` + "`" + `) mark elements that need manual verification.
6. **Duplicates** are reported, never merged away. Keep every identifier unique.

## Editing

- Use ` + "`" + `replace_body` + "`" + ` to rewrite an element body. The heading and every other
  byte of the document are kept.
- A new body must not contain element headings or an unclosed code fence.
- If the file changed on disk since it was indexed, the call fails with a
  conflict. Look the element up again and retry.
`
