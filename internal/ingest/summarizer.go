package ingest

import (
	"fmt"
	"strings"

	"litagent/internal/models"
)

const summarizerSystem = "You are an assistant for researchers. You write faithful structured research notes and never invent results."

const summaryTemplate = `**Quick Takeaway and Key Insights:**
[2-10 sentence simple explanation of the paper's problem, method, and outcome]

**Abstract:**
[Concise technical summary]

**Methods:**
- **Preprocessing:** [...]
- **Model/Architecture:** [...]
- **Training Procedure:** [...]
- **Evaluation Setup:** [...]

**Findings / Results:**
- **In-domain Results:**
  - [...]
- **Cross-domain / Generalization Results:**
  - [...]
- **Key Insights:**
  - [...]

**Contributions:**
- [...]

**Limitations / Challenges:**
- [...]

**Future Directions:**
- [...]`

// maxSummaryInput bounds the document text sent to the summarizer.
const maxSummaryInput = 60000

func notesHeader(p models.Paper) string {
	var b strings.Builder
	title := p.Title
	if strings.TrimSpace(title) == "" {
		title = "Unknown Title"
	}
	fmt.Fprintf(&b, "## Research Notes: %s\n\n", title)
	if p.Authors != "" {
		fmt.Fprintf(&b, "*Authors:* %s\n", p.Authors)
	}
	if p.ExternalID != "" {
		fmt.Fprintf(&b, "*ArXiv ID:* %s (https://arxiv.org/abs/%s)\n", p.ExternalID, p.ExternalID)
	}
	if p.PublishedAt != nil {
		fmt.Fprintf(&b, "*Published:* %s\n", p.PublishedAt.Format("2006-01-02"))
	}
	if p.Source != "" {
		fmt.Fprintf(&b, "*Source:* %s\n", p.Source)
	}
	b.WriteString("\n---\n")
	return b.String()
}

func summaryPrompt(p models.Paper, text string) string {
	if r := []rune(text); len(r) > maxSummaryInput {
		text = string(r[:maxSummaryInput])
	}
	return fmt.Sprintf(`Summarise the following research paper into structured research notes using the exact template below.

Requirements:
- Always use Markdown formatting.
- Always include every section in the template.
- If a section has no information in the text, explicitly write: "No explicit information provided."
- Keep technical details (datasets, baselines, metrics, equations, percentages).
- Highlight key results (e.g., best scores) using **bold**.
- Use bullet points where appropriate.

--- TEMPLATE START ---
%s
%s
--- TEMPLATE END ---

Text to summarise:
%s`, notesHeader(p), summaryTemplate, text)
}

// withHeader makes sure stored notes always open with the metadata block.
func withHeader(p models.Paper, notes string) string {
	notes = strings.TrimSpace(notes)
	if strings.HasPrefix(notes, "## Research Notes") {
		return notes
	}
	return notesHeader(p) + "\n" + notes
}
