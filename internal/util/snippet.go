package util

import (
	"sort"
	"strings"
	"unicode"
)

const defaultSnippetRunes = 420

// stopTerms are words that say nothing about which sentence of a paper
// answers a research question.
var stopTerms = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true, "were": true,
	"what": true, "how": true, "why": true, "which": true, "that": true, "this": true,
	"these": true, "those": true, "with": true, "from": true, "across": true, "about": true,
	"does": true, "summarize": true, "recent": true, "work": true, "paper": true, "papers": true,
}

// Snippet flattens s to a single sanitized line of at most maxRunes runes,
// marking a cut with "...".
func Snippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	s = strings.Join(strings.Fields(SanitizeText(s)), " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}

// EvidenceSnippet picks the sentences of a chunk that best match the query,
// with the paper title adding terms for chunks that never repeat it. At most
// two sentences are kept and they stay in document order.
func EvidenceSnippet(chunkText, query, title string, maxRunes int) string {
	text := Snippet(chunkText, 4000)
	terms := queryTerms(query + " " + title)
	sentences := sentencesOf(text)
	if len(terms) == 0 || len(sentences) < 2 {
		return Snippet(text, maxRunes)
	}

	type hit struct {
		pos   int
		score int
	}
	hits := make([]hit, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		hits[i].pos = i
		for _, t := range terms {
			if strings.Contains(low, t) {
				hits[i].score++
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if hits[0].score == 0 {
		return Snippet(text, maxRunes)
	}
	picked := []int{hits[0].pos}
	if hits[1].score > 0 {
		picked = append(picked, hits[1].pos)
		sort.Ints(picked)
	}
	parts := make([]string, len(picked))
	for i, pos := range picked {
		parts[i] = sentences[pos]
	}
	return Snippet(strings.Join(parts, " "), maxRunes)
}

func sentencesOf(text string) []string {
	out := make([]string, 0, 8)
	start := 0
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func queryTerms(s string) []string {
	seen := make(map[string]bool)
	terms := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if len([]rune(f)) < 3 || stopTerms[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}
