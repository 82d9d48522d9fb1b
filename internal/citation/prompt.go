package citation

import (
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/pkg/utils"
)

// DefaultPromptChars bounds the evidence section of a rendered prompt.
const DefaultPromptChars = 3000

const promptText = `You answer questions using only the numbered evidence below.
If the evidence does not contain the answer, reply "I don't know - the provided sources don't contain the answer".

Rules:
1. Use only information found in the evidence.
2. Cite every statement with its evidence number in brackets, e.g. [1] or [2].
3. Do not invent sources, pages or timestamps.
4. End with a SOURCES section that lists each cited number with its file and location.
{{if .Evidence}}
EVIDENCE:
{{.Evidence}}
{{else}}
No evidence was found for this question.
{{end}}
Question: {{.Question}}

SOURCES:
{{range .Citations}}[{{.Number}}] {{.Path}}{{if ne .Modality "image"}} ({{.Locator}}){{end}}
{{end}}`

var promptTemplate = template.Must(template.New("prompt").Parse(promptText))

type promptData struct {
	Question  string
	Evidence  string
	Citations []models.Citation
}

// RenderPrompt renders the grounded prompt for question. The evidence is cut
// at maxChars runes; maxChars <= 0 uses DefaultPromptChars.
func RenderPrompt(question string, a *Assembly, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultPromptChars
	}
	data := promptData{Question: strings.TrimSpace(question)}
	if a != nil {
		data.Citations = a.Citations
		data.Evidence = a.ContextBlock
	}
	if utf8.RuneCountInString(data.Evidence) > maxChars {
		data.Evidence = utils.Truncate(data.Evidence, maxChars) + " [truncated]"
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
