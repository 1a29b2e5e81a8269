package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/runtime/agent"
	"github.com/aethara/fabric-gateway/tools"
)

var deniedPathFragments = []string{".ssh", ".env", "/etc/shadow", "/etc/passwd"}

func checkPath(path string) error {
	for _, frag := range deniedPathFragments {
		if strings.Contains(path, frag) {
			return fabricerr.Newf(fabricerr.CodeAccessDenied, "access to %s is denied", path)
		}
	}
	return nil
}

type ioTool struct{}

func (t *ioTool) ID() tools.ID           { return "io" }
func (t *ioTool) Capabilities() []string { return []string{"read", "write", "list", "search"} }

func (t *ioTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	switch capability {
	case "read":
		return t.read(args)
	case "write":
		return t.write(args)
	case "list":
		return t.list(args)
	case "search":
		return t.search(args)
	default:
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "io.%s", capability)
	}
}

// splitLines splits file content into lines for bounding purposes. An empty
// file has zero lines, not one: strings.Split("", "\n") would otherwise
// report a single empty line, breaking the max_lines=0 boundary case below.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// boundTo caps n to [0, total] and reports whether the cap actually removed
// anything, via the shared agent.Bounds contract.
func boundTo(n, total int) agent.Bounds {
	if n < 0 {
		n = 0
	}
	if n > total {
		n = total
	}
	b := agent.Bounds{Returned: n, Total: &total, Truncated: n < total}
	if b.Truncated {
		b.RefinementHint = "raise the limit argument to see more results"
	}
	return b
}

func (t *ioTool) read(args tools.Args) (tools.Result, error) {
	path, err := args.String("path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fabricerr.Newf(fabricerr.CodeFileNotFound, "file not found: %s", path)
		}
		return nil, fabricerr.Newf(fabricerr.CodeAccessDenied, "cannot read %s: %s", path, err)
	}

	if _, hasMaxLines := args["max_lines"]; !hasMaxLines {
		return tools.Result{"content": string(data), "path": path, "bytes": len(data)}, nil
	}

	lines := splitLines(string(data))
	bounds := boundTo(args.IntOr("max_lines", 0), len(lines))
	content := strings.Join(lines[:bounds.Returned], "\n")
	return tools.Result{
		"content":         content,
		"path":            path,
		"bytes":           len(content),
		"truncated":       bounds.Truncated,
		"lines_returned":  bounds.Returned,
		"lines_total":     *bounds.Total,
		"refinement_hint": bounds.RefinementHint,
	}, nil
}

func (t *ioTool) write(args tools.Args) (tools.Result, error) {
	path, err := args.String("path")
	if err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	content, err := args.String("content")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeAccessDenied, "cannot write %s: %s", path, err)
	}
	return tools.Result{"path": path, "bytes": len(content)}, nil
}

func (t *ioTool) list(args tools.Args) (tools.Result, error) {
	path := args.StringOr("path", ".")
	if err := checkPath(path); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fabricerr.Newf(fabricerr.CodeFileNotFound, "directory not found: %s", path)
		}
		return nil, fabricerr.Newf(fabricerr.CodeAccessDenied, "cannot list %s: %s", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	if _, hasMaxResults := args["max_results"]; !hasMaxResults {
		return tools.Result{"path": path, "entries": names}, nil
	}
	bounds := boundTo(args.IntOr("max_results", 0), len(names))
	return tools.Result{
		"path":      path,
		"entries":   names[:bounds.Returned],
		"truncated": bounds.Truncated,
	}, nil
}

func (t *ioTool) search(args tools.Args) (tools.Result, error) {
	root := args.StringOr("path", ".")
	pattern, err := args.String("pattern")
	if err != nil {
		return nil, err
	}
	if err := checkPath(root); err != nil {
		return nil, err
	}
	var matches []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ok, merr := filepath.Match(pattern, d.Name())
		if merr != nil {
			return merr
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeInvalidExpression, "bad search pattern: %s", err)
	}

	if _, hasMaxResults := args["max_results"]; !hasMaxResults {
		return tools.Result{"matches": matches}, nil
	}
	bounds := boundTo(args.IntOr("max_results", 0), len(matches))
	return tools.Result{"matches": matches[:bounds.Returned], "truncated": bounds.Truncated}, nil
}

func init() {
	tools.Register("io", "read, write, list, and search files outside a fixed deny list of sensitive paths", func(config map[string]any) tools.Tool {
		return &ioTool{}
	})
}
