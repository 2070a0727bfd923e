package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/notify"
)

type fakeIncidents struct {
	byID        map[string]*model.Incident
	assigned    map[string][]model.User
	assignments map[string]map[string]bool

	statusErr error
}

func newFakeIncidents(incs ...*model.Incident) *fakeIncidents {
	f := &fakeIncidents{
		byID:        map[string]*model.Incident{},
		assigned:    map[string][]model.User{},
		assignments: map[string]map[string]bool{},
	}
	for _, inc := range incs {
		f.byID[inc.ID] = inc
	}
	return f
}

func (f *fakeIncidents) GetByID(_ context.Context, id string) (*model.Incident, error) {
	inc, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("incident %s not found", id)
	}
	return inc, nil
}

func (f *fakeIncidents) UpdateStatus(_ context.Context, id, status string) (*model.Incident, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	inc, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("incident %s not found", id)
	}
	inc.Status = status
	if status != model.IncidentSnoozed {
		inc.SnoozedUntil = nil
	}
	return inc, nil
}

func (f *fakeIncidents) ListAssignedUsers(_ context.Context, incidentID string) ([]model.User, error) {
	return f.assigned[incidentID], nil
}

func (f *fakeIncidents) GetAssignment(_ context.Context, incidentID, userID string) (*model.IncidentAssignment, error) {
	if f.assignments[incidentID][userID] {
		return &model.IncidentAssignment{IncidentID: incidentID, UserID: userID}, nil
	}
	return nil, nil
}

func (f *fakeIncidents) CreateAssignment(_ context.Context, incidentID, userID string) (*model.IncidentAssignment, error) {
	if f.assignments[incidentID] == nil {
		f.assignments[incidentID] = map[string]bool{}
	}
	f.assignments[incidentID][userID] = true
	return &model.IncidentAssignment{IncidentID: incidentID, UserID: userID}, nil
}

type fakeUsers struct {
	users []model.User
	err   error
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.users {
		if f.users[i].ID == id {
			return &f.users[i], nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.users {
		if f.users[i].Email == email {
			return &f.users[i], nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) ListByRoleAndTeam(_ context.Context, role, teamID string) ([]model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.User
	for _, u := range f.users {
		if u.Role == role && u.TeamID != nil && *u.TeamID == teamID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakePolicies struct {
	policies []model.EscalationPolicy
	err      error
}

func (f *fakePolicies) GetActivePolicies(context.Context) ([]model.EscalationPolicy, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.policies, nil
}

type ledgerKey struct {
	incidentID string
	policyID   string
	step       int
}

// fakeLedger mirrors the store's claim protocol: one row per tuple, failed
// rows reclaimable, everything else rejected.
type fakeLedger struct {
	mu     sync.Mutex
	events map[ledgerKey]*model.EscalationEvent
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{events: map[ledgerKey]*model.EscalationEvent{}}
}

func (f *fakeLedger) GetProcessedSteps(_ context.Context, incidentID, policyID string) (map[int]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int]struct{}{}
	for k, ev := range f.events {
		if k.incidentID == incidentID && k.policyID == policyID && ev.Status != model.EventFailed {
			out[k.step] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeLedger) GetNotifiedUserIDs(_ context.Context, incidentID, policyID string, step int) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	ev, ok := f.events[ledgerKey{incidentID, policyID, step}]
	if !ok {
		return out, nil
	}
	for _, id := range ev.Metadata.TargetUserIDs() {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeLedger) CreatePending(_ context.Context, incidentID, policyID string, step int, meta model.EventMetadata) (*model.EscalationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey{incidentID, policyID, step}
	if existing, ok := f.events[key]; ok {
		if existing.Status != model.EventFailed {
			return nil, ErrStepAlreadyClaimed
		}
		existing.Status = model.EventPending
		existing.Metadata = existing.Metadata.Merge(meta)
		return existing, nil
	}
	ev := &model.EscalationEvent{
		ID:          fmt.Sprintf("evt-%d", len(f.events)+1),
		IncidentID:  incidentID,
		PolicyID:    policyID,
		Step:        step,
		Status:      model.EventPending,
		TriggeredAt: time.Now(),
		Metadata:    meta,
	}
	f.events[key] = ev
	return ev, nil
}

func (f *fakeLedger) Complete(_ context.Context, ev *model.EscalationEvent, patch model.EventMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	ev.Status = model.EventCompleted
	ev.CompletedAt = &now
	ev.Metadata = ev.Metadata.Merge(patch)
	return nil
}

func (f *fakeLedger) Fail(_ context.Context, ev *model.EscalationEvent, errText string, patch model.EventMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.Status = model.EventFailed
	ev.Metadata = ev.Metadata.Merge(patch)
	ev.Metadata[model.MetaError] = errText
	return nil
}

func (f *fakeLedger) get(incidentID, policyID string, step int) *model.EscalationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[ledgerKey{incidentID, policyID, step}]
}

type delivery struct {
	recipient string
	message   string
	dctx      notify.Context
}

type fakeDispatcher struct {
	mu         sync.Mutex
	deliveries []delivery
	failFor    map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failFor: map[string]error{}}
}

func (f *fakeDispatcher) Channel() string { return "fake" }

func (f *fakeDispatcher) Deliver(_ context.Context, recipient, message string, dctx notify.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[recipient]; ok {
		return err
	}
	f.deliveries = append(f.deliveries, delivery{recipient: recipient, message: message, dctx: dctx})
	return nil
}

func (f *fakeDispatcher) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deliveries))
	for i, d := range f.deliveries {
		out[i] = d.recipient
	}
	return out
}
