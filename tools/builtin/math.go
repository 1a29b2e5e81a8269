package builtin

import (
	"context"
	"math"

	"github.com/google/cel-go/cel"
	mstats "github.com/montanaflynn/stats"

	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/tools"
)

// calculateTool evaluates an arithmetic expression over a fixed set of
// declared math functions and constants, never the caller's own names.
type calculateTool struct {
	env *cel.Env
}

func newCalculateTool() *calculateTool {
	env, err := cel.NewEnv(
		cel.Declarations(),
		cel.Function("sqrt", cel.Overload("sqrt_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Sqrt(x.(float64)) }))),
		cel.Function("sin", cel.Overload("sin_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Sin(x.(float64)) }))),
		cel.Function("cos", cel.Overload("cos_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Cos(x.(float64)) }))),
		cel.Function("tan", cel.Overload("tan_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Tan(x.(float64)) }))),
		cel.Function("log", cel.Overload("log_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Log(x.(float64)) }))),
		cel.Function("log10", cel.Overload("log10_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Log10(x.(float64)) }))),
		cel.Function("exp", cel.Overload("exp_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Exp(x.(float64)) }))),
		cel.Function("ceil", cel.Overload("ceil_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Ceil(x.(float64)) }))),
		cel.Function("floor", cel.Overload("floor_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
			cel.UnaryBinding(func(x interface{}) interface{} { return math.Floor(x.(float64)) }))),
		cel.Function("pow", cel.Overload("pow_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.BinaryBinding(func(x, y interface{}) interface{} { return math.Pow(x.(float64), y.(float64)) }))),
		cel.Variable("pi", cel.DoubleType),
		cel.Variable("e", cel.DoubleType),
	)
	if err != nil {
		panic("builtin: invalid cel environment: " + err.Error())
	}
	return &calculateTool{env: env}
}

func (t *calculateTool) ID() tools.ID           { return "math.calculate" }
func (t *calculateTool) Capabilities() []string { return []string{"eval"} }

func (t *calculateTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "eval" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "math.calculate.%s", capability)
	}
	expr, err := args.String("expression")
	if err != nil {
		return nil, err
	}

	ast, issues := t.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fabricerr.Newf(fabricerr.CodeInvalidExpression, "invalid expression: %s", issues.Err())
	}
	program, err := t.env.Program(ast)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeInvalidExpression, "invalid expression: %s", err)
	}

	out, _, err := program.Eval(map[string]any{
		"pi": math.Pi,
		"e":  math.E,
	})
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeInvalidExpression, "could not evaluate: %s", err)
	}

	result := out.Value()
	if f, ok := result.(float64); ok {
		precision := args.IntOr("precision", 10)
		result = roundTo(f, precision)
	}
	return tools.Result{"result": result, "expression": expr}, nil
}

func roundTo(f float64, precision int) float64 {
	mult := math.Pow(10, float64(precision))
	return math.Round(f*mult) / mult
}

// statisticsTool computes descriptive statistics over a numeric dataset.
type statisticsTool struct{}

func (t *statisticsTool) ID() tools.ID           { return "math.statistics" }
func (t *statisticsTool) Capabilities() []string { return []string{"analyze"} }

func (t *statisticsTool) Execute(ctx context.Context, capability string, args tools.Args) (tools.Result, error) {
	if capability != "analyze" {
		return nil, fabricerr.Newf(fabricerr.CodeCapabilityNotFound, "math.statistics.%s", capability)
	}
	data, err := args.Float64Slice("data")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fabricerr.New(fabricerr.CodeEmptyData, "data array is empty")
	}

	measures := args.StringSlice("measures")
	if len(measures) == 0 {
		measures = []string{"mean", "median", "stddev", "min", "max"}
	}
	want := func(name string) bool {
		for _, m := range measures {
			if m == name {
				return true
			}
		}
		return false
	}

	sum, err := mstats.Sum(data)
	if err != nil {
		return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "statistics error: %s", err)
	}
	result := tools.Result{"count": len(data), "sum": sum}

	if want("mean") {
		v, err := mstats.Mean(data)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "statistics error: %s", err)
		}
		result["mean"] = v
	}
	if want("median") {
		v, err := mstats.Median(data)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "statistics error: %s", err)
		}
		result["median"] = v
	}
	if want("stddev") && len(data) > 1 {
		v, err := mstats.StandardDeviation(data)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "statistics error: %s", err)
		}
		result["stddev"] = v
	}
	if want("min") {
		v, err := mstats.Min(data)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "statistics error: %s", err)
		}
		result["min"] = v
	}
	if want("max") {
		v, err := mstats.Max(data)
		if err != nil {
			return nil, fabricerr.Newf(fabricerr.CodeExecutionError, "statistics error: %s", err)
		}
		result["max"] = v
	}
	return result, nil
}

func init() {
	tools.Register("math.calculate", "safely evaluate a mathematical expression", func(config map[string]any) tools.Tool {
		return newCalculateTool()
	})
	tools.Register("math.statistics", "compute descriptive statistics over a dataset", func(config map[string]any) tools.Tool {
		return &statisticsTool{}
	})
}
