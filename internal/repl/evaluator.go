// Package repl implements the REPL Evaluator: a per-pause evaluation
// namespace that renders an expression or runs a small statement block
// against a paused frame's captured locals.
//
// There is no general Go interpreter in the example corpus this module
// draws on, so the evaluated language is a deliberately small
// expression/statement subset — literals, identifiers, arithmetic,
// comparisons, boolean operators, selector/index/call access into
// namespace values, and top-level assignment — parsed with go/parser
// and walked by hand rather than compiled.
package repl

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"github.com/curtcox/cideldill/internal/codec"
)

// Result is the outcome of one Eval call.
type Result struct {
	Output  string
	IsError bool
	Value   any
	Payload codec.Payload
}

// Evaluator evaluates source fragments against a caller-supplied
// namespace. It is stateless; the namespace (and hence variable
// persistence across calls) lives in the caller's breakpoint.ReplSession.
type Evaluator struct{}

// NewEvaluator returns an Evaluator.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// Eval tries expr as an expression first, rendering its value with the
// codec; on parse failure it falls back to statement mode; assignments
// persist into ns.
func (e *Evaluator) Eval(ns map[string]any, expr string, format codec.Format) Result {
	if value, err := e.evalAsExpression(ns, expr); err == nil {
		return e.renderSuccess(value, format)
	} else if !isParseError(err) {
		return e.renderRuntimeError(err)
	}

	if err := e.evalAsStatements(ns, expr); err != nil {
		if isParseError(err) {
			return Result{Output: err.Error(), IsError: true}
		}
		return e.renderRuntimeError(err)
	}
	return Result{Output: "", IsError: false}
}

func (e *Evaluator) evalAsExpression(ns map[string]any, expr string) (any, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return nil, classifyParseError(expr, err)
	}
	return evalExpr(node, ns)
}

func (e *Evaluator) evalAsStatements(ns map[string]any, src string) error {
	const prefix = "package p\nfunc f() {\n"
	wrapped := prefix + src + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "repl.go", wrapped, 0)
	if err != nil {
		return classifyParseError(prefix+src, err)
	}

	fn := file.Decls[0].(*ast.FuncDecl)
	for _, stmt := range fn.Body.List {
		if err := execStmt(stmt, ns); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) renderSuccess(value any, format codec.Format) Result {
	payload := codec.Serialize(value, format)
	return Result{Output: prettyPrint(value), IsError: false, Value: value, Payload: payload}
}

func (e *Evaluator) renderRuntimeError(err error) Result {
	return Result{Output: runtimeErrorMessage(err), IsError: true}
}

// runtimeErrorMessage maps a Go error produced during evaluation to the
// "<Type>: <message>" form used throughout the transcript.
func runtimeErrorMessage(err error) string {
	if re, ok := err.(*runtimeError); ok {
		return fmt.Sprintf("%s: %s", re.typeName, re.message)
	}
	return fmt.Sprintf("RuntimeError: %s", err.Error())
}

type runtimeError struct {
	typeName string
	message  string
}

func (e *runtimeError) Error() string { return e.typeName + ": " + e.message }

func newRuntimeError(typeName, format string, args ...any) error {
	return &runtimeError{typeName: typeName, message: fmt.Sprintf(format, args...)}
}

type parseError struct {
	incomplete bool
	detail     string
}

func (e *parseError) Error() string {
	if e.incomplete {
		return "SyntaxError: incomplete input"
	}
	return "SyntaxError: " + e.detail
}

func isParseError(err error) bool {
	_, ok := err.(*parseError)
	return ok
}

// classifyParseError distinguishes incomplete input (the caller's expr
// is a valid prefix of a larger fragment, e.g. "1 +") from a genuine
// syntax error.
func classifyParseError(src string, err error) error {
	var last *scanner.Error
	switch e := err.(type) {
	case scanner.ErrorList:
		if len(e) == 0 {
			return &parseError{detail: err.Error()}
		}
		last = e[0]
	case *scanner.Error:
		last = e
	default:
		return &parseError{detail: err.Error()}
	}

	trimmed := strings.TrimRight(src, " \t\n\r")
	atEOF := last.Pos.Offset >= len(trimmed)
	looksIncomplete := atEOF && (strings.Contains(last.Msg, "expected") || strings.Contains(last.Msg, "unexpected EOF"))
	return &parseError{incomplete: looksIncomplete, detail: last.Msg}
}

func prettyPrint(value any) string {
	if value == nil {
		return "<nil>"
	}
	if ph, ok := value.(*codec.Placeholder); ok {
		return fmt.Sprintf("<%s object at placeholder>", ph.TypeName)
	}
	return fmt.Sprintf("%v", value)
}
