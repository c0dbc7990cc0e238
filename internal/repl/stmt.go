package repl

import "go/ast"

// execStmt runs one statement from the fallback statement parse, the
// only forms needed for REPL fragments: assignment (persisting into
// ns) and bare expression statements (evaluated and discarded).
func execStmt(stmt ast.Stmt, ns map[string]any) error {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		_, err := evalExpr(s.X, ns)
		return err
	case *ast.AssignStmt:
		return execAssign(s, ns)
	default:
		return newRuntimeError("SyntaxError", "unsupported statement form")
	}
}

func execAssign(s *ast.AssignStmt, ns map[string]any) error {
	if len(s.Lhs) != len(s.Rhs) {
		return newRuntimeError("SyntaxError", "mismatched assignment arity")
	}

	values := make([]any, len(s.Rhs))
	for i, rhs := range s.Rhs {
		v, err := evalExpr(rhs, ns)
		if err != nil {
			return err
		}
		values[i] = v
	}

	for i, lhs := range s.Lhs {
		ident, ok := lhs.(*ast.Ident)
		if !ok {
			return newRuntimeError("SyntaxError", "assignment target must be a plain name")
		}
		if ident.Name == "_" {
			continue
		}
		ns[ident.Name] = values[i]
	}
	return nil
}
