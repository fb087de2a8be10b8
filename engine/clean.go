package engine

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

var (
	stripPolicy = bluemonday.StrictPolicy()

	// Block-level boundaries become line breaks before tags are stripped so
	// paragraph structure survives.
	blockBoundary = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|h[1-6]|tr|blockquote|section|article|pre)\s*>`)
	titleElement  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

	horizontalSpace = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
	bulletPrefix    = regexp.MustCompile(`^\s*(?:[-*+•◦▪‣–—]|\(?\d{1,3}[.)])\s+`)
)

// clean applies the configured clean-up passes to s. Text is always NFKC
// normalised so compatibility characters do not leak into later steps.
func clean(s string, opts pipeline.CleanOptions) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if opts.StripHTML {
		s = htmlToText(s)
	}
	if opts.RemoveBullets {
		s = removeBullets(s)
	}
	if opts.NormalizeWhitespace {
		s = normalizeWhitespace(s)
	}
	return strings.TrimSpace(s)
}

// htmlToText drops markup and decodes entities.
func htmlToText(s string) string {
	s = blockBoundary.ReplaceAllString(s, "$0\n")
	return html.UnescapeString(stripPolicy.Sanitize(s))
}

// htmlTitle returns the document title, if any.
func htmlTitle(s string) string {
	m := titleElement.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(m[1])))
}

func removeBullets(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = bulletPrefix.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}

// normalizeWhitespace collapses horizontal runs to one space, trims every
// line and keeps at most one blank line between paragraphs.
func normalizeWhitespace(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || !unicode.IsControl(r) {
			return r
		}
		if r == '\t' {
			return ' '
		}
		return -1
	}, s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	return blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
