package seed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/oncall/internal/model"
)

const sampleYAML = `
policies:
  - name: critical-default
    description: Page hard on critical incidents
    conditions:
      severity: [critical]
    steps:
      - delay_minutes: 0
        actions:
          - type: notify
            recipients: [assignees]
      - delay_minutes: 15
        actions:
          - type: notify_team_lead
  - name: stale-auto-ack
    conditions: {}
    active: false
    steps:
      - delay_minutes: 60
        actions:
          - type: change_status
            status: acknowledged
`

type fakeStore struct {
	existing map[string]*model.EscalationPolicy
	created  []string
	updated  []string
}

func (f *fakeStore) GetByName(_ context.Context, name string) (*model.EscalationPolicy, error) {
	return f.existing[name], nil
}

func (f *fakeStore) Create(_ context.Context, p *model.EscalationPolicy) error {
	f.created = append(f.created, p.Name)
	return nil
}

func (f *fakeStore) Update(_ context.Context, p *model.EscalationPolicy) (*model.EscalationPolicy, error) {
	f.updated = append(f.updated, p.Name)
	return p, nil
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, f.Policies, 2)

	p := f.Policies[0].toModel()
	assert.Equal(t, "critical-default", p.Name)
	assert.True(t, p.IsActive)
	assert.Equal(t, model.PolicyConditions{"severity": {"critical"}}, p.Conditions)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, 0, p.Steps[0].DelayMinutes)
	assert.Equal(t, "notify_team_lead", p.Steps[1].Actions[0].Type)

	inactive := f.Policies[1].toModel()
	assert.False(t, inactive.IsActive)
}

func TestParse_RejectsInvalidPolicy(t *testing.T) {
	_, err := Parse([]byte(`
policies:
  - name: broken
    steps:
      - delay_minutes: 5
        actions:
          - type: teleport
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestApply_CreatesAndUpdates(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	store := &fakeStore{existing: map[string]*model.EscalationPolicy{
		"stale-auto-ack": {ID: "pol-existing", Name: "stale-auto-ack"},
	}}

	require.NoError(t, Apply(context.Background(), f, store, zerolog.Nop()))
	assert.Equal(t, []string{"critical-default"}, store.created)
	assert.Equal(t, []string{"stale-auto-ack"}, store.updated)
}
