package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/aethara/fabric-gateway/dispatch"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/trace"
)

// stdioRequest mirrors the HTTP surface's invoke body: {name, arguments}.
// The stdio transport exists for embedders that prefer a subprocess pipe
// over a listening socket (spec.md §6's CLI surface: "--transport ∈
// {stdio, http}"); it speaks the identical envelope, one JSON object per
// line in either direction, with no framing beyond the newline.
type stdioRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// runStdio reads one stdioRequest per line from stdin and writes the
// resulting *dispatch.Response, also one per line, to stdout until
// stdin is closed or ctx is cancelled. Streaming calls are not
// supported over this transport: args.stream is rejected the same way
// the synchronous dispatch path rejects it, since a line-oriented pipe
// has no framing for an open-ended event sequence.
func runStdio(ctx context.Context, d *dispatch.Dispatcher) error {
	return stdioLoop(ctx, d, bufio.NewReader(os.Stdin), os.Stdout)
}

func stdioLoop(ctx context.Context, d *dispatch.Dispatcher, in *bufio.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := in.ReadBytes('\n')
		if len(line) > 0 {
			resp := handleStdioLine(ctx, d, line)
			if err := enc.Encode(resp); err != nil {
				return err
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func handleStdioLine(ctx context.Context, d *dispatch.Dispatcher, line []byte) *dispatch.Response {
	var req stdioRequest
	if err := json.Unmarshal(line, &req); err != nil {
		tr := trace.New()
		return &dispatch.Response{OK: false, Error: fabricerr.New(fabricerr.CodeBadInput, "malformed request line: "+err.Error()), Trace: tr}
	}
	return d.Dispatch(ctx, dispatch.Request{Op: req.Name, Args: req.Arguments})
}
