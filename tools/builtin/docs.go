package builtin

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

type markdownTool struct {
	md goldmark.Markdown
}

func newMarkdownTool() *markdownTool {
	return &markdownTool{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (t *markdownTool) ID() tools.ID           { return "docs.markdown" }
func (t *markdownTool) Capabilities() []string { return []string{"render"} }

func (t *markdownTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "render" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "docs.markdown.%s", capability)
	}
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	source := []byte(input)

	var buf bytes.Buffer
	if err := t.md.Convert(source, &buf); err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "markdown render error: %s", err)
	}

	result := tools.Result{"html": buf.String()}
	if args.BoolOr("toc", false) {
		result["toc"] = t.tableOfContents(source)
	}
	return result, nil
}

type tocEntry struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

func (t *markdownTool) tableOfContents(source []byte) []tocEntry {
	doc := t.md.Parser().Parse(text.NewReader(source))
	var entries []tocEntry
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		entries = append(entries, tocEntry{Level: heading.Level, Text: headingText(heading, source)})
		return ast.WalkSkipChildren, nil
	})
	return entries
}

func headingText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if txt, ok := c.(*ast.Text); ok {
			buf.Write(txt.Segment.Value(source))
		} else {
			buf.WriteString(headingText(c, source))
		}
	}
	return buf.String()
}

func init() {
	tools.Register("docs.markdown", "render markdown to HTML, optionally with a table of contents", func(config map[string]any) tools.Tool {
		return newMarkdownTool()
	})
}
