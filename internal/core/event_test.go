package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/oncall/internal/escalation"
	"github.com/edvin/oncall/internal/model"
)

// ---------- CreatePending ----------

func TestEventService_CreatePending_FreshStep(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	ev, err := svc.CreatePending(ctx, "inc-1", "pol-1", 0, model.EventMetadata{
		model.MetaPolicyName: "critical",
	})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventPending, ev.Status)
	assert.Equal(t, "inc-1", ev.IncidentID)
	assert.Equal(t, 0, ev.Step)
	assert.NotEmpty(t, ev.ID)
	db.AssertExpectations(t)
}

func TestEventService_CreatePending_ClaimedByOther(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	// Insert hits the unique index, and the reclaim update matches no failed
	// row: a concurrent evaluator owns the step.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	ev, err := svc.CreatePending(ctx, "inc-1", "pol-1", 0, model.EventMetadata{})
	assert.ErrorIs(t, err, escalation.ErrStepAlreadyClaimed)
	assert.Nil(t, ev)
	db.AssertExpectations(t)
}

func TestEventService_CreatePending_ReclaimsFailedStep(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	storedMeta, _ := json.Marshal(model.EventMetadata{
		model.MetaTargetUsers: []model.TargetUser{{ID: "u-1"}},
	})

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"})
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "evt-1"
			*(dest[1].(*string)) = "inc-1"
			*(dest[2].(*string)) = "pol-1"
			*(dest[3].(*int)) = 0
			*(dest[4].(*string)) = model.EventPending
			*(dest[5].(*time.Time)) = now
			*(dest[6].(**time.Time)) = nil
			*(dest[7].(*[]byte)) = storedMeta
			return nil
		}})

	ev, err := svc.CreatePending(ctx, "inc-1", "pol-1", 0, model.EventMetadata{})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, model.EventPending, ev.Status)
	assert.Equal(t, []string{"u-1"}, ev.Metadata.TargetUserIDs())
	db.AssertExpectations(t)
}

func TestEventService_CreatePending_InsertError(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := svc.CreatePending(ctx, "inc-1", "pol-1", 0, model.EventMetadata{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create pending event")
	db.AssertExpectations(t)
}

// ---------- GetProcessedSteps ----------

func TestEventService_GetProcessedSteps(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	rows := newMockRows(
		func(dest ...any) error { *(dest[0].(*int)) = 0; return nil },
		func(dest ...any) error { *(dest[0].(*int)) = 1; return nil },
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	steps, err := svc.GetProcessedSteps(ctx, "inc-1", "pol-1")
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{0: {}, 1: {}}, steps)
	db.AssertExpectations(t)
}

func TestEventService_GetProcessedSteps_Empty(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)

	steps, err := svc.GetProcessedSteps(ctx, "inc-1", "pol-1")
	require.NoError(t, err)
	assert.Empty(t, steps)
	db.AssertExpectations(t)
}

// ---------- GetNotifiedUserIDs ----------

func TestEventService_GetNotifiedUserIDs(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	meta, _ := json.Marshal(model.EventMetadata{
		model.MetaTargetUsers: []model.TargetUser{{ID: "u-1"}, {ID: "u-2"}},
	})
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*[]byte)) = meta
			return nil
		}})

	notified, err := svc.GetNotifiedUserIDs(ctx, "inc-1", "pol-1", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"u-1": {}, "u-2": {}}, notified)
	db.AssertExpectations(t)
}

func TestEventService_GetNotifiedUserIDs_NoEvent(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	notified, err := svc.GetNotifiedUserIDs(ctx, "inc-1", "pol-1", 0)
	require.NoError(t, err)
	assert.Empty(t, notified)
	db.AssertExpectations(t)
}

// ---------- Complete / Fail ----------

func TestEventService_Complete(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	ev := &model.EscalationEvent{ID: "evt-1", Status: model.EventPending, Metadata: model.EventMetadata{}}
	err := svc.Complete(ctx, ev, model.EventMetadata{model.MetaNewNotifications: 2})
	require.NoError(t, err)
	assert.Equal(t, model.EventCompleted, ev.Status)
	assert.NotNil(t, ev.CompletedAt)
	assert.Equal(t, 2, ev.Metadata[model.MetaNewNotifications])
	db.AssertExpectations(t)
}

func TestEventService_Fail_RecordsError(t *testing.T) {
	db := &mockDB{}
	svc := NewEventService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	ev := &model.EscalationEvent{ID: "evt-1", Status: model.EventPending, Metadata: model.EventMetadata{}}
	err := svc.Fail(ctx, ev, "smtp timeout", model.EventMetadata{
		model.MetaTargetUsers: []model.TargetUser{{ID: "u-1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventFailed, ev.Status)
	assert.Equal(t, "smtp timeout", ev.Metadata[model.MetaError])
	assert.Equal(t, []string{"u-1"}, ev.Metadata.TargetUserIDs())
	db.AssertExpectations(t)
}
