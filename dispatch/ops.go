package dispatch

import (
	"strings"

	"github.com/aethara/fabric-gateway/fabricerr"
)

func badInput(message string) error {
	return fabricerr.New(fabricerr.CodeBadInput, message)
}

// The closed operation-name set from spec.md §4.4.
const (
	opAgentList          = "fabric.agent.list"
	opAgentDescribe      = "fabric.agent.describe"
	opCall               = "fabric.call"
	opRoutePreview       = "fabric.route.preview"
	opHealth             = "fabric.health"
	opToolList           = "fabric.tool.list"
	opToolDescribe       = "fabric.tool.describe"
	opToolCall           = "fabric.tool.call"
	opMessageSend        = "fabric.message.send"
	opMessageReceive     = "fabric.message.receive"
	opMessageAcknowledge = "fabric.message.acknowledge"
	opMessagePublish     = "fabric.message.publish"
	opMessageQueueStatus = "fabric.message.queue_status"

	toolShortcutPrefix = "fabric.tool."
)

// parseToolShortcut recognizes the fabric.tool.<category>.<action> direct
// execution shortcut. A tool id may itself contain a dot (e.g.
// "math.calculate"), so the capability is always the last dotted segment
// and the tool id is everything before it.
func parseToolShortcut(op string) (toolID, capability string, ok bool) {
	if !strings.HasPrefix(op, toolShortcutPrefix) {
		return "", "", false
	}
	suffix := strings.TrimPrefix(op, toolShortcutPrefix)
	switch suffix {
	case "list", "describe", "call":
		return "", "", false
	}
	idx := strings.LastIndex(suffix, ".")
	if idx <= 0 || idx == len(suffix)-1 {
		return "", "", false
	}
	return suffix[:idx], suffix[idx+1:], true
}

// toArgs coerces a decoded JSON value into a tools.Args bag, tolerating a
// missing or mistyped "args" field by returning an empty bag rather than
// failing the whole shortcut dispatch on an omitted argument object.
func toArgs(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func int64Arg(args map[string]any, key string) (int64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func stringSliceArg(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapArg(args map[string]any, key string) map[string]any {
	if m, ok := args[key].(map[string]any); ok {
		return m
	}
	return nil
}
