package comprobante

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"ncfpos/internal/core/apperror"
)

// Facts describe the sale being classified. They are exposed to suggest_when
// rules as customer.has_rnc, customer.is_taxpayer and sale.is_refund.
type Facts struct {
	HasRNC     bool `json:"hasRnc"`
	IsTaxpayer bool `json:"isTaxpayer"`
	IsRefund   bool `json:"isRefund"`
}

func (f Facts) activation() map[string]any {
	return map[string]any{
		"customer": map[string]any{
			"has_rnc":     f.HasRNC,
			"is_taxpayer": f.IsTaxpayer,
		},
		"sale": map[string]any{
			"is_refund": f.IsRefund,
		},
	}
}

type rule struct {
	typ  Type
	prog cel.Program
}

// Suggester picks a default comprobante type for a sale by evaluating each
// type's suggest_when expression in id order.
type Suggester struct {
	env *cel.Env

	mu    sync.RWMutex
	rules []rule
}

// NewSuggester compiles the rules of every active, for-sale type that carries one.
func NewSuggester(types []Type) (*Suggester, error) {
	env, err := cel.NewEnv(
		cel.Variable("customer", cel.MapType(cel.StringType, cel.BoolType)),
		cel.Variable("sale", cel.MapType(cel.StringType, cel.BoolType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	s := &Suggester{env: env}
	if err := s.Load(types); err != nil {
		return nil, err
	}
	return s, nil
}

// Load recompiles the rule set. Types are expected in id order, as returned by Registry.List.
func (s *Suggester) Load(types []Type) error {
	rules := make([]rule, 0, len(types))
	for _, t := range types {
		if t.SuggestWhen == "" || !t.Active || !t.ForSale {
			continue
		}
		prog, err := s.compile(t.SuggestWhen)
		if err != nil {
			return apperror.NewValidation("invalid suggest_when rule").
				WithDetail("id", t.ID).
				WithDetail("rule", t.SuggestWhen).
				WithCause(err)
		}
		rules = append(rules, rule{typ: t, prog: prog})
	}

	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

func (s *Suggester) compile(expr string) (cel.Program, error) {
	ast, iss := s.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule must evaluate to bool, got %s", ast.OutputType())
	}
	return s.env.Program(ast)
}

// Suggest returns the first type whose rule matches. ok is false when none does.
func (s *Suggester) Suggest(ctx context.Context, facts Facts) (t Type, ok bool, err error) {
	s.mu.RLock()
	rules := s.rules
	s.mu.RUnlock()

	vars := facts.activation()
	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return Type{}, false, err
		}
		out, _, err := r.prog.Eval(vars)
		if err != nil {
			return Type{}, false, fmt.Errorf("evaluate rule for type %d: %w", r.typ.ID, err)
		}
		if matched, _ := out.Value().(bool); matched {
			return r.typ, true, nil
		}
	}
	return Type{}, false, nil
}
