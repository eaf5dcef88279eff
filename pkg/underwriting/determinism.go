package underwriting

import (
	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Issue is one reason an expression was refused by the determinism check.
type Issue struct {
	Message string
}

// checkDeterminism walks the parsed expression and reports constructs whose result
// could differ between the two parties evaluating it.
func checkDeterminism(ast *cel.Ast) []Issue {
	var issues []Issue
	expr := ast.Expr() //nolint:staticcheck // Deprecated but no alternative for AST traversal yet
	walk(expr, &issues)
	return issues
}

func walk(e *exprpb.Expr, issues *[]Issue) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			*issues = append(*issues, Issue{Message: "floating point literals are forbidden"})
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*issues = append(*issues, Issue{Message: "now() is forbidden"})
		case "keys", "values":
			*issues = append(*issues, Issue{Message: "map iteration (keys/values) is forbidden"})
		case "double":
			*issues = append(*issues, Issue{Message: "double() conversion is forbidden"})
		}
		walk(call.Target, issues)
		for _, arg := range call.Args {
			walk(arg, issues)
		}

	case *exprpb.Expr_SelectExpr:
		walk(k.SelectExpr.Operand, issues)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			walk(el, issues)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			walk(entry.GetMapKey(), issues)
			walk(entry.Value, issues)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		walk(comp.IterRange, issues)
		walk(comp.AccuInit, issues)
		walk(comp.LoopCondition, issues)
		walk(comp.LoopStep, issues)
		walk(comp.Result, issues)
	}
}
