package dispatch

import (
	"context"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
	"github.com/aethara/fabric-gateway/trace"
)

func (d *Dispatcher) handleToolList(ctx context.Context, tr trace.Context, req Request) *Response {
	ids := d.tools.List()
	descriptors := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		info := d.tools.Info(id)
		if info == nil {
			continue
		}
		descriptors = append(descriptors, map[string]any{
			"tool_id":      info.ID,
			"capabilities": info.Capabilities,
			"doc":          info.Doc,
		})
	}
	return okResponse(tr, map[string]any{"tools": descriptors})
}

func (d *Dispatcher) handleToolDescribe(ctx context.Context, tr trace.Context, req Request) *Response {
	toolID, ok := stringArg(req.Args, "tool_id")
	if !ok || toolID == "" {
		return errorResponse(tr, badInput("tool_id is required"))
	}
	info := d.tools.Info(tools.ID(toolID))
	if info == nil {
		return errorResponse(tr, fabricerr.Newf(fabricerr.CodeToolNotFound, "tool not found: %s", toolID))
	}
	return okResponse(tr, map[string]any{
		"tool_id":      info.ID,
		"capabilities": info.Capabilities,
		"doc":          info.Doc,
	})
}

func (d *Dispatcher) handleToolCall(ctx context.Context, tr trace.Context, req Request) *Response {
	toolID, ok := stringArg(req.Args, "tool_id")
	if !ok || toolID == "" {
		return errorResponse(tr, badInput("tool_id is required"))
	}
	capability, ok := stringArg(req.Args, "capability")
	if !ok || capability == "" {
		return errorResponse(tr, badInput("capability is required"))
	}
	return d.executeTool(ctx, tr, toolID, capability, toArgs(req.Args["args"]))
}

func (d *Dispatcher) executeTool(ctx context.Context, tr trace.Context, toolID, capability string, args map[string]any) *Response {
	result, err := d.tools.Execute(ctx, tools.ID(toolID), capability, tools.Args(args))
	if err != nil {
		return errorResponse(tr, err)
	}
	return okResponse(tr, map[string]any{"result": map[string]any(result)})
}
