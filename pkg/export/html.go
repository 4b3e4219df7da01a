// Package export renders analytics conversations as standalone HTML reports.
package export

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	g "maragu.dev/gomponents"
	h "maragu.dev/gomponents/html"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

const reportStyle = `
body { font-family: Inter, -apple-system, "Segoe UI", sans-serif; max-width: 900px; margin: 2rem auto; padding: 0 1rem; color: #1f2933; }
header { border-bottom: 2px solid #4f46e5; margin-bottom: 1.5rem; }
header p { color: #616e7c; }
.message { margin: 1rem 0; padding: 1rem; border-radius: 8px; }
.message.user { background: #eef2ff; }
.message.assistant { background: #f9fafb; border: 1px solid #e4e7eb; }
.role { font-size: 0.8rem; font-weight: 600; text-transform: uppercase; color: #616e7c; }
table { border-collapse: collapse; margin: 0.5rem 0; }
th, td { border: 1px solid #e4e7eb; padding: 0.3rem 0.6rem; text-align: left; }
pre { background: #1f2933; color: #f5f7fa; padding: 0.75rem; overflow-x: auto; border-radius: 6px; }
footer { margin-top: 2rem; font-size: 0.8rem; color: #9aa5b1; }
`

// markdown renders model answers. Raw HTML in the source is dropped.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var filenameUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Report is a rendered conversation.
type Report struct {
	HTML     string `json:"html"`
	Filename string `json:"filename"`
}

// Render builds the report for conv. generatedAt is printed in the footer
// and used in the filename.
func Render(conv *models.Conversation, generatedAt time.Time) (*Report, error) {
	var buf bytes.Buffer
	if err := Write(&buf, conv, generatedAt); err != nil {
		return nil, err
	}
	return &Report{HTML: buf.String(), Filename: Filename(conv, generatedAt)}, nil
}

// Write renders the report document to w.
func Write(w io.Writer, conv *models.Conversation, generatedAt time.Time) error {
	messages := make([]g.Node, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		node, err := messageNode(msg)
		if err != nil {
			return err
		}
		messages = append(messages, node)
	}

	title := conv.Title
	if title == "" {
		title = "AI report"
	}

	doc := h.Doctype(h.HTML(
		h.Lang("en"),
		h.Head(
			h.Meta(h.Charset("utf-8")),
			h.Meta(h.Name("viewport"), h.Content("width=device-width, initial-scale=1")),
			h.TitleEl(g.Text(title)),
			h.StyleEl(g.Raw(reportStyle)),
		),
		h.Body(
			h.Header(
				h.H1(g.Text(title)),
				h.P(g.Textf("Conversation started %s", conv.CreatedAt.UTC().Format("2 January 2006 15:04 MST"))),
			),
			h.Main(g.Group(messages)),
			h.Footer(g.Textf("Generated %s by the MyDigipal dashboard", generatedAt.UTC().Format(time.RFC3339))),
		),
	))

	if err := doc.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func messageNode(msg models.ConversationMessage) (g.Node, error) {
	role := "You"
	if msg.Role == models.RoleAssistant {
		role = "Assistant"
	}

	var body bytes.Buffer
	if err := markdown.Convert([]byte(msg.Content), &body); err != nil {
		return nil, fmt.Errorf("failed to convert message markdown: %w", err)
	}

	return h.Section(
		h.Class("message "+msg.Role),
		h.Div(h.Class("role"), g.Text(role)),
		h.Div(h.Class("content"), g.Raw(body.String())),
		g.If(len(msg.SQLExecuted) > 0, h.Details(
			h.Summary(g.Textf("SQL (%d)", len(msg.SQLExecuted))),
			g.Map(msg.SQLExecuted, func(q string) g.Node {
				return h.Pre(h.Code(g.Text(q)))
			}),
		)),
	), nil
}

// Filename is the download name for a conversation's report.
func Filename(conv *models.Conversation, generatedAt time.Time) string {
	slug := strings.Trim(filenameUnsafe.ReplaceAllString(strings.ToLower(conv.Title), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		slug = "report"
	}
	return fmt.Sprintf("mydigipal-ai-%s-%s.html", slug, generatedAt.UTC().Format("2006-01-02"))
}
