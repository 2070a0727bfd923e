// Package seed loads escalation policies from a YAML file and upserts them
// by name. It runs at worker startup so a fresh deployment escalates
// correctly before anyone touches the policy API.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/edvin/oncall/internal/model"
)

type File struct {
	Policies []PolicyDef `yaml:"policies"`
}

type PolicyDef struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Conditions  map[string][]string `yaml:"conditions"`
	Steps       []StepDef           `yaml:"steps"`
	Active      *bool               `yaml:"active"`
}

type StepDef struct {
	DelayMinutes int         `yaml:"delay_minutes"`
	Actions      []ActionDef `yaml:"actions"`
}

type ActionDef struct {
	Type       string   `yaml:"type"`
	Message    string   `yaml:"message"`
	Target     string   `yaml:"target"`
	Recipients []string `yaml:"recipients"`
	Status     string   `yaml:"status"`
}

// PolicyStore is the slice of the policy service the seeder needs.
type PolicyStore interface {
	GetByName(ctx context.Context, name string) (*model.EscalationPolicy, error)
	Create(ctx context.Context, p *model.EscalationPolicy) error
	Update(ctx context.Context, p *model.EscalationPolicy) (*model.EscalationPolicy, error)
}

// Load parses a policy seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes seed YAML and converts it to model policies for validation.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range f.Policies {
		if err := f.Policies[i].toModel().Validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func (d PolicyDef) toModel() *model.EscalationPolicy {
	p := &model.EscalationPolicy{
		Name:        d.Name,
		Description: d.Description,
		Conditions:  model.PolicyConditions{},
		IsActive:    true,
	}
	if d.Active != nil {
		p.IsActive = *d.Active
	}
	for field, values := range d.Conditions {
		p.Conditions[field] = values
	}
	for _, s := range d.Steps {
		step := model.EscalationStep{DelayMinutes: s.DelayMinutes}
		for _, a := range s.Actions {
			step.Actions = append(step.Actions, model.EscalationAction{
				Type:       a.Type,
				Message:    a.Message,
				Target:     a.Target,
				Recipients: a.Recipients,
				Status:     a.Status,
			})
		}
		p.Steps = append(p.Steps, step)
	}
	return p
}

// Apply upserts every policy in the file by name. Existing policies are
// replaced with the seed definition; IDs and history are kept.
func Apply(ctx context.Context, f *File, store PolicyStore, logger zerolog.Logger) error {
	for _, def := range f.Policies {
		p := def.toModel()

		existing, err := store.GetByName(ctx, p.Name)
		if err != nil {
			return fmt.Errorf("seed policy %q: %w", p.Name, err)
		}

		if existing == nil {
			if err := store.Create(ctx, p); err != nil {
				return fmt.Errorf("seed policy %q: %w", p.Name, err)
			}
			logger.Info().Str("policy", p.Name).Msg("seeded escalation policy")
			continue
		}

		p.ID = existing.ID
		if _, err := store.Update(ctx, p); err != nil {
			return fmt.Errorf("seed policy %q: %w", p.Name, err)
		}
		logger.Info().Str("policy", p.Name).Msg("updated escalation policy from seed")
	}
	return nil
}
