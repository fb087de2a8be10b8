package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/GoCodeAlone/contentflow/pipeline"
)

const (
	warnSummarySkipped    = "summarise skipped: content already within the sentence limit"
	warnAbstractiveMissed = "abstractive summarisation unavailable; used extractive summary"
)

// summarise condenses the working text. A summary supplied with the run
// request replaces unchunked text outright.
func (e *Engine) summarise(ctx context.Context, opts pipeline.SummariseOptions, st *state) error {
	if st.summary != "" && !st.chunked {
		st.text = st.summary
		return nil
	}

	abstractive := opts.Mode == pipeline.SummaryAbstractive
	if abstractive && e.text == nil {
		st.warn(warnAbstractiveMissed)
		abstractive = false
	}

	return st.mapText(func(s string) (string, error) {
		if len(sentences(s)) <= opts.MaxSentences {
			st.warn(warnSummarySkipped)
			return s, nil
		}
		if abstractive {
			out, err := e.text.Summarise(ctx, s, opts.MaxSentences)
			if err != nil {
				return "", fmt.Errorf("abstractive summary: %w", err)
			}
			return out, nil
		}
		return extractiveSummary(s, opts.MaxSentences), nil
	})
}

// extractiveSummary keeps the max highest-scoring sentences in their original
// order. A sentence scores the mean document frequency of its content words.
func extractiveSummary(text string, max int) string {
	sents := sentences(text)
	if len(sents) <= max {
		return text
	}

	freq := map[string]int{}
	tokenized := make([][]string, len(sents))
	for i, s := range sents {
		tokenized[i] = contentWords(s)
		for _, w := range tokenized[i] {
			freq[w]++
		}
	}

	type scored struct {
		index int
		score float64
	}
	ranked := make([]scored, len(sents))
	for i, words := range tokenized {
		total := 0
		for _, w := range words {
			total += freq[w]
		}
		score := 0.0
		if len(words) > 0 {
			score = float64(total) / float64(len(words))
		}
		ranked[i] = scored{index: i, score: score}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	keep := make([]int, 0, max)
	for _, r := range ranked[:max] {
		keep = append(keep, r.index)
	}
	sort.Ints(keep)

	out := make([]string, len(keep))
	for i, idx := range keep {
		out[i] = sents[idx]
	}
	return strings.Join(out, " ")
}

// sentences splits text at terminal punctuation followed by whitespace and
// at paragraph breaks. Closing quotes and brackets stay with their sentence.
func sentences(text string) []string {
	var out []string
	for _, para := range paragraphs(text) {
		runes := []rune(para)
		start := 0
		for i := 0; i < len(runes); i++ {
			if !isTerminal(runes[i]) {
				continue
			}
			end := i + 1
			for end < len(runes) && isCloser(runes[end]) {
				end++
			}
			if end < len(runes) && !unicode.IsSpace(runes[end]) {
				continue
			}
			if s := strings.TrimSpace(string(runes[start:end])); s != "" {
				out = append(out, s)
			}
			start = end
			i = end - 1
		}
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

var stopWords = map[string]bool{
	"the": true, "and": true, "that": true, "with": true, "this": true, "from": true,
	"have": true, "were": true, "which": true, "their": true, "there": true, "been": true,
	"they": true, "will": true, "would": true, "about": true, "into": true, "than": true,
	"then": true, "them": true, "these": true, "those": true, "also": true, "such": true,
}

func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	words := fields[:0]
	for _, w := range fields {
		if len([]rune(w)) > 3 && !stopWords[w] {
			words = append(words, w)
		}
	}
	return words
}
