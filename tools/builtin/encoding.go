package builtin

import (
	"context"
	"net/url"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

type urlTool struct{}

func (t *urlTool) ID() tools.ID           { return "encoding.url" }
func (t *urlTool) Capabilities() []string { return []string{"encode", "decode"} }

func (t *urlTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	switch capability {
	case "encode":
		return tools.Result{"result": url.QueryEscape(input)}, nil
	case "decode":
		decoded, err := url.QueryUnescape(input)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid url encoding: %s", err)
		}
		return tools.Result{"result": decoded}, nil
	default:
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "encoding.url.%s", capability)
	}
}

func init() {
	tools.Register("encoding.url", "URL encode or decode a string", func(config map[string]any) tools.Tool {
		return &urlTool{}
	})
}
