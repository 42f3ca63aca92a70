// Package rag turns crawled record trees into flat text documents suitable
// for retrieval indexing.
package rag

import (
	"html"
	"regexp"
	"strings"
)

// The wiki stores page bodies in an XHTML storage format full of ac: and ri:
// namespaced macro markup. Cleaning keeps the human-readable text inside the
// common callout macros and drops the rest of the markup.
var (
	richTextBody = regexp.MustCompile(`(?s)<ac:rich-text-body[^>]*>(.*?)</ac:rich-text-body>`)
	plainTextTag = regexp.MustCompile(`(?s)<ac:plain-text-body><!\[CDATA\[(.*?)\]\]></ac:plain-text-body>`)
	linkBody     = regexp.MustCompile(`(?s)<ac:link-body[^>]*>(.*?)</ac:link-body>`)
	nsTag        = regexp.MustCompile(`(?s)</?(?:ac|ri):[^>]*>`)
	blockClose   = regexp.MustCompile(`(?i)</(?:p|div|li|tr|h[1-6]|table|blockquote)>|<br\s*/?>`)
	anyTag       = regexp.MustCompile(`(?s)<[^>]+>`)
	lineSpace    = regexp.MustCompile(`[ \t]+`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// CleanStorageBody strips wiki storage-format markup down to readable text.
// Callout and expand macro bodies survive; layout, link and attachment
// markup is removed.
func CleanStorageBody(body string) string {
	if body == "" {
		return ""
	}
	text := richTextBody.ReplaceAllString(body, "\n$1\n")
	text = plainTextTag.ReplaceAllString(text, "\n$1\n")
	text = linkBody.ReplaceAllString(text, "$1")
	text = nsTag.ReplaceAllString(text, "")
	text = blockClose.ReplaceAllString(text, "\n")
	text = anyTag.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return collapseWhitespace(text)
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(lineSpace.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
