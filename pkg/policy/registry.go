package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
)

// ActionDescriptor registers an action's zone/reversibility rules and an
// optional CEL predicate for finer-grained gating (spec §4.5 layer 2).
type ActionDescriptor struct {
	RequiredZone        chain.Zone
	Irreversible        bool
	RequiresPreApproval bool
	// Predicate, if set, is a CEL expression evaluated against the
	// request's context map; a false result escalates to require_approval
	// the same way an irreversible action does.
	Predicate string
}

// Registry holds ActionDescriptors and compiles/caches CEL predicates,
// grounded in Mindburn-Labs-helm's CELPolicyEvaluator (compile-once,
// cache-by-expression, evaluate-against-a-dynamic-map pattern).
type Registry struct {
	env     *cel.Env
	actions map[string]ActionDescriptor

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func NewRegistry() (*Registry, error) {
	env, err := cel.NewEnv(cel.Variable("context", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("policy: create cel env: %w", err)
	}
	return &Registry{
		env:      env,
		actions:  make(map[string]ActionDescriptor),
		prgCache: make(map[string]cel.Program),
	}, nil
}

func (r *Registry) Register(action string, desc ActionDescriptor) {
	r.actions[action] = desc
}

// Evaluate runs layer 2 for a request's action. A nil Decision means the
// action isn't registered and the gate should fall through to later
// layers.
func (r *Registry) Evaluate(req Request, currentZone chain.Zone) (*Decision, error) {
	desc, ok := r.actions[req.Action]
	if !ok {
		return nil, nil
	}

	if desc.RequiresPreApproval {
		d := requireApproval("action_requires_pre_approval", fmt.Sprintf("action %s requires pre-approval", req.Action))
		return &d, nil
	}

	if desc.Irreversible && currentZone != chain.ZoneHighStakes {
		d := requireApproval("irreversible_action_escalation", fmt.Sprintf("irreversible action %s outside high_stakes zone escalates to approval", req.Action))
		return &d, nil
	}

	if desc.Predicate != "" {
		ok, err := r.evalPredicate(desc.Predicate, req.Context)
		if err != nil {
			return nil, fmt.Errorf("policy: evaluate predicate for %s: %w", req.Action, err)
		}
		if !ok {
			d := requireApproval("action_predicate_failed", fmt.Sprintf("action %s predicate evaluated false", req.Action))
			return &d, nil
		}
	}

	return nil, nil
}

func (r *Registry) evalPredicate(expr string, context map[string]any) (bool, error) {
	r.mu.RLock()
	prg, hit := r.prgCache[expr]
	r.mu.RUnlock()

	if !hit {
		r.mu.Lock()
		if prg, hit = r.prgCache[expr]; !hit {
			ast, issues := r.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				r.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := r.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
			if err != nil {
				r.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			r.prgCache[expr] = p
			prg = p
		}
		r.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]any{"context": context})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("predicate result not bool")
	}
	return val, nil
}
