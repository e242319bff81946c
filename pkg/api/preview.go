package api

import (
	"regexp"
	"strings"
)

const previewRunes = 180

var (
	mdCodeBlock  = regexp.MustCompile("```[\\s\\S]*?```")
	mdImage      = regexp.MustCompile(`!\[[^\]]*?\]\([^)]*?\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+?)\]\([^)]*?\)`)
	mdInlineCode = regexp.MustCompile("`[^`]*?`")
	mdMarkup     = regexp.MustCompile(`[#>*_\-|~]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// previewText flattens markdown into a single line of plain text of at
// most previewRunes runes, ellipsised when cut.
func previewText(content string) string {
	out := mdCodeBlock.ReplaceAllString(content, " ")
	out = mdImage.ReplaceAllString(out, " ")
	out = mdLink.ReplaceAllString(out, "${1}")
	out = mdInlineCode.ReplaceAllString(out, " ")
	out = mdMarkup.ReplaceAllString(out, " ")
	out = strings.TrimSpace(whitespace.ReplaceAllString(out, " "))

	runes := []rune(out)
	if len(runes) <= previewRunes {
		return out
	}

	return strings.TrimSpace(string(runes[:previewRunes])) + "…"
}
