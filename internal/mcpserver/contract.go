package mcpserver

// TagFormatContract describes the tag file and the listing text that
// jump_to_tag accepts.
const TagFormatContract = `# mdview Tag Format

Tags mark scroll positions (in pixels from the top of the rendered page)
inside a Markdown document. They are stored in a single JSON file.

## Tag file

` + "```" + `json
{
    "/home/me/notes/readme.md": [
        {
            "name": "install",
            "position": 420
        },
        {
            "name": "usage",
            "position": 1380
        }
    ]
}
` + "```" + `

## Rules

1. Keys are document paths exactly as they were opened. Documents keep the
   order in which they were first tagged.
2. ` + "`" + `position` + "`" + ` is a non-negative integer.
3. A tag with the same name and position as an existing tag of the same
   document is ignored.
4. A bare string entry is read as a tag with that name at position 0.
5. Deleting the last tag of a document removes the document key.

## Listing text

Tag listings are rendered as:

` + "```" + `
<file name>: <tag name> (位置: <position>)
` + "```" + `

Pass a listing line unchanged to ` + "`" + `jump_to_tag` + "`" + `; the position after the
last ` + "`" + `(位置: ` + "`" + ` marker is used.
`
