package builtin

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

var dangerousCommandPatterns = []string{"rm -rf /", "sudo", "chmod 777", "> /dev"}

var sensitiveEnvMarkers = []string{"PASSWORD", "SECRET", "TOKEN", "KEY", "CREDENTIAL"}

type execTool struct{}

func (t *execTool) ID() tools.ID           { return "system.execute" }
func (t *execTool) Capabilities() []string { return []string{"exec"} }

func (t *execTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "exec" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "system.execute.%s", capability)
	}
	command, err := args.String("command")
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(command)
	for _, pattern := range dangerousCommandPatterns {
		if strings.Contains(lower, pattern) {
			return nil, fabricerr.Newf(fabricerr.CodeDangerousCommand, "command contains dangerous pattern: %s", pattern)
		}
	}

	timeoutMS := args.IntOr("timeout_ms", 30000)
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if wd := args.StringOr("working_dir", ""); wd != "" {
		cmd.Dir = wd
	}
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fabricerr.Newf(fabricerr.CodeTimeout, "command timed out after %dms", timeoutMS)
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "%s", runErr)
		}
	}

	return tools.Result{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
		"command":   command,
	}, nil
}

type envTool struct{}

func (t *envTool) ID() tools.ID           { return "system.env" }
func (t *envTool) Capabilities() []string { return []string{"get"} }

func (t *envTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "get" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "system.env.%s", capability)
	}
	if name := args.StringOr("name", ""); name != "" {
		value, exists := os.LookupEnv(name)
		return tools.Result{"name": name, "value": value, "exists": exists}, nil
	}

	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := parts[0]
		upper := strings.ToUpper(key)
		sensitive := false
		for _, marker := range sensitiveEnvMarkers {
			if strings.Contains(upper, marker) {
				sensitive = true
				break
			}
		}
		if sensitive {
			continue
		}
		vars[key] = parts[1]
	}
	return tools.Result{"variables": vars, "count": len(vars)}, nil
}

type datetimeTool struct{}

func (t *datetimeTool) ID() tools.ID           { return "system.datetime" }
func (t *datetimeTool) Capabilities() []string { return []string{"now"} }

func (t *datetimeTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "now" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "system.datetime.%s", capability)
	}
	now := time.Now().UTC()
	result := tools.Result{
		"iso":       now.Format(time.RFC3339Nano),
		"timestamp": float64(now.UnixNano()) / 1e9,
		"timezone":  "UTC",
	}
	switch args.StringOr("format", "iso") {
	case "rfc2822":
		result["formatted"] = now.Format(time.RFC1123Z)
	case "custom":
		if layout := args.StringOr("custom_format", ""); layout != "" {
			result["formatted"] = now.Format(layout)
		} else {
			result["formatted"] = result["iso"]
		}
	default:
		result["formatted"] = result["iso"]
	}
	return result, nil
}

func init() {
	tools.Register("system.execute", "run a shell command under a deny-list and timeout", func(config map[string]any) tools.Tool {
		return &execTool{}
	})
	tools.Register("system.env", "read environment variables, redacting sensitive names", func(config map[string]any) tools.Tool {
		return &envTool{}
	})
	tools.Register("system.datetime", "report the current UTC time", func(config map[string]any) tools.Tool {
		return &datetimeTool{}
	})
}
