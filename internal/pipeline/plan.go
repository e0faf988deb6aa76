package pipeline

import (
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/ports"
)

type PlannedStep struct {
	Key     string
	Step    ports.Step
	Timeout time.Duration
}

// Plan is the fixed run of one order: decided before the first step and
// never changed while the steps run.
type Plan struct {
	Kind  domain.DeliveryKind
	Steps []PlannedStep
	Env   map[string]string
}

func (p Plan) Keys() []string {
	keys := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		keys[i] = s.Key
	}
	return keys
}

// Planner builds plans from a definition.
type Planner struct {
	Definition Definition
	Resolver   DeliveryResolver
	Timeout    func(key string) time.Duration
	NewStep    func(spec StepSpec) ports.Step
}

func (p Planner) Plan(o domain.Order) Plan {
	kind := p.Resolver.Resolve(o)
	env := Input(o)
	env["DELIVERY_KIND"] = string(kind)

	specs := p.Definition.For(kind)
	steps := make([]PlannedStep, 0, len(specs))
	for _, spec := range specs {
		steps = append(steps, PlannedStep{
			Key:     spec.Key,
			Step:    p.NewStep(spec),
			Timeout: p.Timeout(spec.Key),
		})
	}
	return Plan{Kind: kind, Steps: steps, Env: env}
}
