package engine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// chunk splits text into segments of at most opts.MaxCharacters runes.
// Units (sentences or paragraphs) are packed greedily; a unit longer than the
// limit is hard split at word boundaries.
func chunk(text string, opts pipeline.ChunkOptions) []string {
	limit := opts.MaxCharacters
	if limit <= 0 {
		limit = pipeline.DefaultChunkCharacters
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	switch opts.Strategy {
	case pipeline.ChunkByParagraph:
		return pack(paragraphs(text), "\n\n", limit)
	case pipeline.ChunkByCharacters:
		return hardSplit(strings.Join(strings.Fields(text), " "), limit)
	default:
		return pack(sentences(text), " ", limit)
	}
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pack(units []string, sep string, limit int) []string {
	segments := []string{}
	var cur strings.Builder
	curLen := 0
	sepLen := utf8.RuneCountInString(sep)

	flush := func() {
		if curLen > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if n > limit {
			flush()
			segments = append(segments, hardSplit(u, limit)...)
			continue
		}
		if curLen > 0 && curLen+sepLen+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += sepLen
		}
		cur.WriteString(u)
		curLen += n
	}
	flush()
	return segments
}

// hardSplit cuts s into pieces of at most limit runes, preferring the last
// whitespace inside the window and cutting mid-word only when a window has
// none.
func hardSplit(s string, limit int) []string {
	out := []string{}
	runes := []rune(strings.TrimSpace(s))
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			out = append(out, piece)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if piece := strings.TrimSpace(string(runes)); piece != "" {
		out = append(out, piece)
	}
	return out
}
