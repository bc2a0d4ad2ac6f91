// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package model

import (
	"bytes"
	"text/template"
)

// Evidence pairs a PMID with its display sentence for prompt rendering.
type Evidence struct {
	PMID string
	Text string
}

// refinePromptTmpl is the prompt sent to the model for each iteration. It
// presents the evidence window tagged with PMIDs and instructs the model to
// close with a machine-readable verdict line: either that the evidence is
// sufficient, or which PMIDs to drop from the window.
var refinePromptTmpl = template.Must(template.New("refine").Parse(`Based on the following scientific abstracts, describe how an indirect relationship between {{.Subject}} and {{.Object}} might exist. Consider the key findings, underlying mechanisms, and any intermediate entities or processes mentioned in the abstracts. Connect these elements into a coherent narrative that illustrates the possible indirect linkage between {{.Subject}} and {{.Object}}.

Each abstract is tagged with its PMID:
{{range .Evidence}}
[PMID {{.PMID}}]
{{.Text}}
{{end}}
After your explanation, end your reply with exactly one verdict line:
- If the abstracts together support a coherent indirect relationship, write:
  VERDICT: SUFFICIENT
- If one or more abstracts are irrelevant or unhelpful for linking {{.Subject}} and {{.Object}}, write the PMIDs to drop:
  VERDICT: REMOVE <pmid> [<pmid> ...]

Write nothing after the verdict line.`))

// promptData is the template context for one iteration.
type promptData struct {
	Subject  string
	Object   string
	Evidence []Evidence
}

// RenderPrompt builds the full prompt for one iteration from the record's
// subject/object pair and the rendered evidence window.
func RenderPrompt(subject, object string, evidence []Evidence) (string, error) {
	var buf bytes.Buffer
	err := refinePromptTmpl.Execute(&buf, promptData{
		Subject:  subject,
		Object:   object,
		Evidence: evidence,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
