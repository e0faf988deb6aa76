// Package pipeline describes the ordered fulfillment steps and turns an
// order into a concrete plan: the resolved delivery kind, the steps to run
// and the environment handed to every step.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"orderflow/internal/domain"

	"gopkg.in/yaml.v3"
)

// StepSpec declares one step. Delivery is empty for steps every order runs;
// otherwise the step only runs for orders of that delivery kind.
type StepSpec struct {
	Key      string              `yaml:"key"`
	Command  []string            `yaml:"command"`
	Delivery domain.DeliveryKind `yaml:"delivery,omitempty"`
}

type Definition struct {
	Steps []StepSpec `yaml:"steps"`
}

// Default is the built-in pipeline: one executable per step key under dir.
func Default(dir string) Definition {
	step := func(key string, kind domain.DeliveryKind) StepSpec {
		return StepSpec{Key: key, Command: []string{filepath.Join(dir, key)}, Delivery: kind}
	}
	return Definition{Steps: []StepSpec{
		step("cart", ""),
		step("checkout", ""),
		step("delivery_branch", domain.DeliveryBranch),
		step("delivery_terminal", domain.DeliveryTerminal),
		step("label", ""),
		step("confirm", ""),
	}}
}

// LoadFile reads a YAML pipeline definition. Unknown fields are rejected.
func LoadFile(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pipeline file: %w", err)
	}
	var d Definition
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Definition{}, fmt.Errorf("decode pipeline file %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return Definition{}, fmt.Errorf("pipeline file %s: %w", path, err)
	}
	return d, nil
}

func (d Definition) Validate() error {
	if len(d.Steps) == 0 {
		return errors.New("no steps defined")
	}
	seen := make(map[string]bool, len(d.Steps))
	var errs []error
	for i, s := range d.Steps {
		switch {
		case s.Key == "":
			errs = append(errs, fmt.Errorf("step %d: key is required", i))
		case seen[s.Key]:
			errs = append(errs, fmt.Errorf("step %q: duplicate key", s.Key))
		}
		seen[s.Key] = true
		if len(s.Command) == 0 || s.Command[0] == "" {
			errs = append(errs, fmt.Errorf("step %q: command is required", s.Key))
		}
		switch s.Delivery {
		case "", domain.DeliveryBranch, domain.DeliveryTerminal:
		default:
			errs = append(errs, fmt.Errorf("step %q: unknown delivery kind %q", s.Key, s.Delivery))
		}
	}
	return errors.Join(errs...)
}

// For returns the steps an order of the given delivery kind runs, in order.
func (d Definition) For(kind domain.DeliveryKind) []StepSpec {
	out := make([]StepSpec, 0, len(d.Steps))
	for _, s := range d.Steps {
		if s.Delivery == "" || s.Delivery == kind {
			out = append(out, s)
		}
	}
	return out
}
