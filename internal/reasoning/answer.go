package reasoning

import (
	"fmt"
	"strings"

	"litagent/internal/models"
	"litagent/internal/util"
)

// ExtractiveAnswer builds an answer straight from the retrieved chunks for
// when no generation succeeded.
func ExtractiveAnswer(query string, chunks []models.ChunkResult) string {
	if len(chunks) == 0 {
		return "## Direct Answer\n- No relevant evidence was retrieved for this question and the reasoning service is unavailable. Please try again later."
	}
	lines := make([]string, 0, 6)
	lines = append(lines, "## Direct Answer")
	lines = append(lines, "- Retrieved evidence suggests the following:")
	limit := min(len(chunks), 3)
	for i := 0; i < limit; i++ {
		c := chunks[i]
		snippet := util.EvidenceSnippet(c.Text, query, c.Title, 180)
		lines = append(lines, fmt.Sprintf("- %s: %s [C%d]", paperLabel(c), snippet, i+1))
	}
	lines = append(lines, "## Confidence")
	lines = append(lines, "- Low confidence: the reasoning service was unavailable and this is an extract of the retrieved chunks.")
	return strings.Join(lines, "\n")
}

// FinalizeSynthesis makes the final answer structured markdown and appends a
// references section for context papers the text does not already name.
func FinalizeSynthesis(text string, chunks []models.ChunkResult) string {
	text = strings.TrimSpace(text)
	if !hasHeading(text) {
		text = "## Answer\n\n" + text
	}
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	refs := make([]string, 0)
	for _, c := range chunks {
		if seen[c.PaperID] {
			continue
		}
		seen[c.PaperID] = true
		if c.ExternalID != "" && strings.Contains(lower, strings.ToLower(c.ExternalID)) {
			continue
		}
		if t := strings.TrimSpace(c.Title); t != "" && strings.Contains(lower, strings.ToLower(t)) {
			continue
		}
		refs = append(refs, "- "+paperLabel(c))
	}
	if len(refs) == 0 {
		return text
	}
	return text + "\n\n### References\n" + strings.Join(refs, "\n")
}

func hasHeading(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return false
}

func paperLabel(c models.ChunkResult) string {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = "Untitled paper"
	}
	if c.ExternalID != "" {
		return fmt.Sprintf("%s (arXiv:%s)", title, c.ExternalID)
	}
	return title
}
