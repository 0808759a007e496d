package saga

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// RuleSet 是启动时编译好的下单准入规则（CEL 表达式）。
// 可用变量: userId (int), status (string), items (list of {productId, quantity})。
// 例如: size(items) <= 50 && items.all(i, i.quantity <= 100)
type RuleSet struct {
	rules []compiledRule
}

type compiledRule struct {
	expr    string
	program cel.Program
}

func CompileRules(exprs []string) (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("userId", cel.IntType),
		cel.Variable("status", cel.StringType),
		cel.Variable("items", cel.ListType(cel.MapType(cel.StringType, cel.IntType))),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}

	rs := &RuleSet{}
	for _, expr := range exprs {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, errors.Wrapf(iss.Err(), "compile rule %q", expr)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, errors.Errorf("rule %q must evaluate to bool, got %s", expr, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "build program for rule %q", expr)
		}
		rs.rules = append(rs.rules, compiledRule{expr: expr, program: prg})
	}
	return rs, nil
}

func (r *RuleSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Check 任意一条规则为 false 或求值出错都视为校验失败
func (r *RuleSet) Check(req *domain.OrderRequest) error {
	if r.Len() == 0 {
		return nil
	}

	items := make([]map[string]int64, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]int64{"productId": item.ProductID, "quantity": int64(item.Quantity)})
	}
	var userID int64
	if req.UserID != nil {
		userID = *req.UserID
	}
	activation := map[string]any{
		"userId": userID,
		"status": req.Status,
		"items":  items,
	}

	for _, rule := range r.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			return domain.WrapError(domain.KindValidation, err, "Order rejected by rule: "+rule.expr)
		}
		if ok, _ := out.Value().(bool); !ok {
			return domain.NewError(domain.KindValidation, "Order rejected by rule: "+rule.expr)
		}
	}
	return nil
}
