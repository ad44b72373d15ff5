// Package render turns harvest results into the plain-text artifact form.
// Templates live here so the core never formats its own output.
package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

const itemTemplateText = `##### Title
{{.Title}}

##### Description
{{.Description}}

##### Tags
{{.Tags}}

##### Transcript
{{.Transcript}}

##### Comments
{{.Comments}}

##### Errors
Extraction error: {{.ExtractionError}}
Comment error: {{.CommentError}}
`

var itemTemplate = template.Must(template.New("item").Parse(itemTemplateText))

// itemView flattens one job's results for the template.
type itemView struct {
	Title           string
	Description     string
	Tags            string
	Transcript      string
	Comments        string
	ExtractionError string
	CommentError    string
}

// Renderer implements harvest.ItemRenderer and assembles run-level text.
// The zero value is ready to use; template execution is concurrency-safe.
type Renderer struct{}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// RenderItem renders one item's combined section. Boundary failures show up
// as error lines, never as missing sections.
func (r *Renderer) RenderItem(_ harvest.ItemReference, ext harvest.ExtractionResult, comments harvest.CommentThreadResult) string {
	lines := make([]string, 0, len(comments.Comments))
	for _, c := range comments.Comments {
		lines = append(lines, string(c))
	}
	view := itemView{
		Title:           orNone(ext.Title),
		Description:     orNone(ext.Description),
		Tags:            orNone(strings.Join(ext.Tags, ", ")),
		Transcript:      orNone(ext.Transcript),
		Comments:        orNone(strings.Join(lines, "\n")),
		ExtractionError: orNone(ext.Err),
		CommentError:    orNone(comments.Err),
	}
	var b strings.Builder
	if err := itemTemplate.Execute(&b, view); err != nil {
		// The template is static and the view is plain strings; execution
		// cannot realistically fail, but surfacing beats swallowing.
		return fmt.Sprintf("render failed: %v", err)
	}
	return b.String()
}

// RenderRun assembles the final artifact text. Each outcome gets a distinct
// header so "no results", "nothing processed", and truncated runs are
// recognizable at a glance.
func (r *Renderer) RenderRun(artifact harvest.FinalArtifact) string {
	switch artifact.Outcome {
	case harvest.OutcomeNoResults:
		return fmt.Sprintf("No items found for query %q.\n", artifact.Query)
	case harvest.OutcomeNothingProcessed:
		if artifact.Truncated {
			return fmt.Sprintf("Run for query %q hit its deadline before any item finished.\n", artifact.Query)
		}
		return fmt.Sprintf("No item for query %q could be processed.\n", artifact.Query)
	}

	var b strings.Builder
	if artifact.Truncated {
		fmt.Fprintf(&b, "Partial results for query %q (run deadline reached, %d item(s) completed):\n\n",
			artifact.Query, len(artifact.Items))
	} else {
		fmt.Fprintf(&b, "Results for query %q (%d item(s)):\n\n", artifact.Query, len(artifact.Items))
	}
	for i, item := range artifact.Items {
		fmt.Fprintf(&b, "#### Item %d\n%s\n", i+1, strings.TrimRight(item, "\n"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
