package reasoning

import (
	"fmt"
	"strings"

	"litagent/internal/models"
	"litagent/internal/util"
)

const systemPrompt = "You are a research assistant working over a private paper library. " +
	"Ground every claim in the provided paper context and cite papers by title or arXiv id. " +
	"Do not invent identifiers."

const contextSnippetRunes = 1200

// contextLines renders chunks as numbered evidence for the prompt.
func contextLines(chunks []models.ChunkResult) []string {
	out := make([]string, 0, len(chunks))
	for i, c := range chunks {
		title := util.Snippet(c.Title, 120)
		if c.ExternalID != "" {
			title += " (arXiv:" + c.ExternalID + ")"
		}
		out = append(out, fmt.Sprintf("C%d | %s: %s", i+1, title, util.Snippet(c.Text, contextSnippetRunes)))
	}
	return out
}

func priorText(run *Run, upTo Stage) string {
	var b strings.Builder
	for _, s := range Stages {
		if s == upTo {
			break
		}
		res, ok := run.Result(s)
		if !ok {
			continue
		}
		text := res.Text
		if res.Degraded {
			text = "(unavailable)"
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Title(), text)
	}
	return strings.TrimSpace(b.String())
}

func header(run *Run, s Stage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INTERNAL REASONING MODE [%s]\nUser Query: %s\n\n", s.Title(), run.Query)
	if prior := priorText(run, s); prior != "" {
		b.WriteString("Earlier reasoning:\n")
		b.WriteString(prior)
		b.WriteString("\n\n")
	}
	if len(run.Context()) == 0 {
		b.WriteString("No papers from the library matched this query. Say so where it matters.\n\n")
	}
	return b.String()
}

func stagePrompt(run *Run, s Stage) string {
	h := header(run, s)
	switch s {
	case StageExploration:
		return h + "Instructions:\n" +
			"- Break the query into sub-questions and angles worth investigating.\n" +
			"- Note which angles the context already covers and which it does not.\n" +
			"- Keep it to a short bullet list."
	case StageDraft:
		return h + "Instructions:\n" +
			"- Write a first-pass answer grounded in the context snippets.\n" +
			"- Cite snippets as [C1], [C2] after the sentence they support.\n" +
			"- State plainly where the evidence is missing."
	case StageReflection:
		return h + "Instructions:\n" +
			"- Critique the draft: unsupported claims, gaps, missing primary sources.\n" +
			"- Suggest arXiv papers that would close the gaps.\n" +
			"- Write suggested papers as exact arXiv ids (format: 2403.12345), one per line.\n" +
			"- Only suggest ids you are confident exist."
	default:
		return "EXIT INTERNAL REASONING MODE\n\n" + h + "Instructions:\n" +
			"- Produce the final structured academic answer in Markdown with headings.\n" +
			"- Include key contributions, gaps and limitations.\n" +
			"- Reference the relevant papers by title or arXiv id.\n" +
			"- Use only the context snippets for factual claims."
	}
}

func directPrompt(query string, hasContext bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	if !hasContext {
		b.WriteString("No papers from the library matched this question. Say so and answer cautiously.\n\n")
	}
	b.WriteString("Answer using the provided evidence snippets and cite them as [C1], [C2].\n" +
		"Return markdown with this structure:\n" +
		"## Direct Answer\n" +
		"## Confidence\n")
	return b.String()
}
