package builtin

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

type jsonTool struct{}

func (t *jsonTool) ID() tools.ID           { return "data.json" }
func (t *jsonTool) Capabilities() []string { return []string{"parse", "query"} }

func (t *jsonTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(input) {
		return nil, fabricerr.New(fabricerr.CodeBadInput, "input is not valid JSON")
	}

	switch capability {
	case "parse":
		var decoded any
		if err := json.Unmarshal([]byte(input), &decoded); err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid JSON: %s", err)
		}
		return tools.Result{"value": decoded}, nil
	case "query":
		path, err := args.String("path")
		if err != nil {
			return nil, err
		}
		result := gjson.Get(input, path)
		if !result.Exists() {
			return tools.Result{"found": false}, nil
		}
		return tools.Result{"found": true, "value": result.Value()}, nil
	default:
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "data.json.%s", capability)
	}
}

type csvTool struct{}

func (t *csvTool) ID() tools.ID           { return "data.csv" }
func (t *csvTool) Capabilities() []string { return []string{"parse"} }

func (t *csvTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "parse" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "data.csv.%s", capability)
	}
	input, err := args.String("input")
	if err != nil {
		return nil, err
	}
	hasHeader := args.BoolOr("header", true)

	r := csv.NewReader(strings.NewReader(input))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid CSV: %s", err)
	}
	if len(records) == 0 {
		return tools.Result{"rows": []any{}}, nil
	}

	if !hasHeader {
		rows := make([]any, len(records))
		for i, rec := range records {
			rows[i] = rec
		}
		return tools.Result{"rows": rows}, nil
	}

	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return tools.Result{"rows": rows, "header": header}, nil
}

type schemaTool struct{}

func (t *schemaTool) ID() tools.ID           { return "data.schema" }
func (t *schemaTool) Capabilities() []string { return []string{"validate"} }

func (t *schemaTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "validate" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "data.schema.%s", capability)
	}
	schemaJSON, err := args.String("schema")
	if err != nil {
		return nil, err
	}
	instanceJSON, err := args.String("instance")
	if err != nil {
		return nil, err
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid schema: %s", err)
	}
	instanceDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(instanceJSON)))
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid instance: %s", err)
	}

	c := jsonschema.NewCompiler()
	const resourceURL = "mem://tool-schema.json"
	if err := c.AddResource(resourceURL, schemaDoc); err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid schema: %s", err)
	}
	sch, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeBadInput, "invalid schema: %s", err)
	}

	if err := sch.Validate(instanceDoc); err != nil {
		return tools.Result{"valid": false, "errors": err.Error()}, nil
	}
	return tools.Result{"valid": true}, nil
}

func init() {
	tools.Register("data.json", "parse JSON and query it with a dotted path", func(config map[string]any) tools.Tool {
		return &jsonTool{}
	})
	tools.Register("data.csv", "parse CSV text into rows", func(config map[string]any) tools.Tool {
		return &csvTool{}
	})
	tools.Register("data.schema", "validate a JSON instance against a JSON Schema", func(config map[string]any) tools.Tool {
		return &schemaTool{}
	})
}
