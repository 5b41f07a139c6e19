// Package generation holds the answer prompt and wrappers shared by the
// generation providers.
package generation

import (
	"bytes"
	"strings"
	"text/template"
)

const (
	contextOpen   = "<context>"
	contextClose  = "</context>"
	questionLabel = "Question:"
)

var promptTemplate = template.Must(template.New("prompt").Parse(`Human: Use the following pieces of context to provide a concise answer to the question at the end,
but at least summarize with 250 words with detailed explanations.
If you don't know the answer, just say that you don't know, don't try to make up an answer.
` + contextOpen + `
{{.Context}}
` + contextClose + `
` + questionLabel + ` {{.Question}}
Assistant:`))

// RenderPrompt fills the answer template with a context block and a question.
func RenderPrompt(contextBlock, question string) string {
	var buf bytes.Buffer
	// Execute cannot fail: the template only reads two string fields.
	_ = promptTemplate.Execute(&buf, struct{ Context, Question string }{contextBlock, question})
	return buf.String()
}

// ParsePrompt recovers the context block and question from a prompt made by
// RenderPrompt. ok is false when the prompt has a different shape.
func ParsePrompt(prompt string) (contextBlock, question string, ok bool) {
	start := strings.Index(prompt, contextOpen)
	end := strings.LastIndex(prompt, contextClose)
	if start < 0 || end < start {
		return "", "", false
	}
	contextBlock = strings.Trim(prompt[start+len(contextOpen):end], "\n")
	rest := prompt[end+len(contextClose):]
	q := strings.Index(rest, questionLabel)
	if q < 0 {
		return "", "", false
	}
	question = rest[q+len(questionLabel):]
	question = strings.TrimSuffix(strings.TrimSpace(question), "Assistant:")
	return contextBlock, strings.TrimSpace(question), true
}
