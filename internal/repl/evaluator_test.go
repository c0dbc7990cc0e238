package repl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curtcox/cideldill/internal/codec"
)

func TestEvalArithmeticExpression(t *testing.T) {
	e := NewEvaluator()
	result := e.Eval(map[string]any{}, "1 + 2 * 3", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "7", result.Output)
}

func TestEvalReadsNamespaceIdentifier(t *testing.T) {
	e := NewEvaluator()
	ns := map[string]any{"x": int64(41)}
	result := e.Eval(ns, "x + 1", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "42", result.Output)
}

func TestEvalUndefinedNameIsRuntimeError(t *testing.T) {
	e := NewEvaluator()
	result := e.Eval(map[string]any{}, "missing", codec.FormatJSON)
	assert.True(t, result.IsError)
	assert.Equal(t, "NameError: name \"missing\" is not defined", result.Output)
}

func TestEvalStatementAssignmentPersistsInNamespace(t *testing.T) {
	e := NewEvaluator()
	ns := map[string]any{}

	result := e.Eval(ns, "y := 10", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "", result.Output)

	result = e.Eval(ns, "y", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "10", result.Output)
}

func TestEvalSyntaxErrorDistinguishesIncompleteInput(t *testing.T) {
	e := NewEvaluator()

	incomplete := e.Eval(map[string]any{}, "1 +", codec.FormatJSON)
	assert.True(t, incomplete.IsError)
	assert.Equal(t, "SyntaxError: incomplete input", incomplete.Output)

	invalid := e.Eval(map[string]any{}, ")(", codec.FormatJSON)
	assert.True(t, invalid.IsError)
	assert.Contains(t, invalid.Output, "SyntaxError:")
}

func TestEvalDivisionByZeroIsRuntimeError(t *testing.T) {
	e := NewEvaluator()
	result := e.Eval(map[string]any{}, "1 / 0", codec.FormatJSON)
	assert.True(t, result.IsError)
	assert.Equal(t, "ZeroDivisionError: integer division by zero", result.Output)
}

func TestEvalStringConcatenation(t *testing.T) {
	e := NewEvaluator()
	ns := map[string]any{"name": "world"}
	result := e.Eval(ns, `"hello " + name`, codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello world", result.Output)
}

func TestEvalBooleanLogic(t *testing.T) {
	e := NewEvaluator()
	ns := map[string]any{"x": int64(5)}
	result := e.Eval(ns, "x > 1 && x < 10", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "true", result.Output)
}

func TestEvalStructFieldSelector(t *testing.T) {
	type point struct{ X, Y int64 }
	e := NewEvaluator()
	ns := map[string]any{"p": point{X: 3, Y: 4}}
	result := e.Eval(ns, "p.X", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.Equal(t, "3", result.Output)
}

func TestEvalMapIndexMissingKeyIsKeyError(t *testing.T) {
	e := NewEvaluator()
	ns := map[string]any{"m": map[string]any{"a": int64(1)}}
	result := e.Eval(ns, `m["b"]`, codec.FormatJSON)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Output, "KeyError")
}

func TestEvalProducesPayloadForSuccessfulResult(t *testing.T) {
	e := NewEvaluator()
	result := e.Eval(map[string]any{}, "21 * 2", codec.FormatJSON)
	assert.False(t, result.IsError)
	assert.NotEmpty(t, result.Payload.CID)
	assert.Equal(t, codec.FormatJSON, result.Payload.Format)
}
