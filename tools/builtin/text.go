package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

type regexTool struct{}

func (t *regexTool) ID() tools.ID           { return "text.regex" }
func (t *regexTool) Capabilities() []string { return []string{"match", "find", "replace"} }

func (t *regexTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	pattern, err := args.String("pattern")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeInvalidRegex, "invalid pattern: %s", err)
	}

	input, err := args.String("input")
	if err != nil {
		return nil, err
	}

	switch capability {
	case "match":
		return tools.Result{"matched": re.MatchString(input)}, nil
	case "find":
		all := args.BoolOr("all", false)
		if all {
			return tools.Result{"matches": re.FindAllString(input, -1)}, nil
		}
		m := re.FindString(input)
		return tools.Result{"match": m, "found": m != "" || re.MatchString(input)}, nil
	case "replace":
		repl := args.StringOr("replacement", "")
		return tools.Result{"result": re.ReplaceAllString(input, repl)}, nil
	default:
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "text.regex.%s", capability)
	}
}

type transformTool struct{}

func (t *transformTool) ID() tools.ID           { return "text.transform" }
func (t *transformTool) Capabilities() []string { return []string{"transform"} }

func (t *transformTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "transform" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "text.transform.%s", capability)
	}
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	steps := args.StringSlice("steps")
	out := input
	for _, step := range steps {
		switch step {
		case "upper":
			out = strings.ToUpper(out)
		case "lower":
			out = strings.ToLower(out)
		case "trim":
			out = strings.TrimSpace(out)
		case "replace":
			from := args.StringOr("from", "")
			to := args.StringOr("to", "")
			out = strings.ReplaceAll(out, from, to)
		default:
			return nil, fabricerr.Newf(fabricerr.CodeBadInput, "unknown transform step: %s", step)
		}
	}
	return tools.Result{"result": out}, nil
}

type diffTool struct{}

func (t *diffTool) ID() tools.ID           { return "text.diff" }
func (t *diffTool) Capabilities() []string { return []string{"diff"} }

func (t *diffTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "diff" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "text.diff.%s", capability)
	}
	a, err := args.String("a")
	if err != nil {
		return nil, err
	}
	b, err := args.String("b")
	if err != nil {
		return nil, err
	}

	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: args.StringOr("from_label", "a"),
		ToFile:   args.StringOr("to_label", "b"),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "diff error: %s", err)
	}
	return tools.Result{"diff": text}, nil
}

func init() {
	tools.Register("text.regex", "match, find, or replace using regular expressions", func(config map[string]any) tools.Tool {
		return &regexTool{}
	})
	tools.Register("text.transform", "apply a pipeline of text transform steps", func(config map[string]any) tools.Tool {
		return &transformTool{}
	})
	tools.Register("text.diff", "compute a unified line diff between two texts", func(config map[string]any) tools.Tool {
		return &diffTool{}
	})
}
