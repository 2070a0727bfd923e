package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	ttlcache "github.com/jellydator/ttlcache/v3"

	"github.com/edvin/oncall/internal/model"
	"github.com/edvin/oncall/internal/platform"
)

const activePoliciesKey = "active"

// PolicyService manages escalation policies. The active-policy set is read on
// every sweep pass, so it sits behind a short TTL cache; mutations invalidate
// it.
type PolicyService struct {
	db    DB
	cache *ttlcache.Cache[string, []model.EscalationPolicy]
}

func NewPolicyService(db DB, cacheTTL time.Duration) *PolicyService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &PolicyService{
		db:    db,
		cache: ttlcache.New(ttlcache.WithTTL[string, []model.EscalationPolicy](cacheTTL)),
	}
}

func scanPolicy(row pgx.Row) (*model.EscalationPolicy, error) {
	var p model.EscalationPolicy
	var conditions, steps []byte
	err := row.Scan(&p.ID, &p.Name, &p.Description, &conditions, &steps,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return &p, nil
}

// Create validates and stores a policy.
func (s *PolicyService) Create(ctx context.Context, p *model.EscalationPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	p.ID = platform.NewName("pol")
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO escalation_policies (id, name, description, conditions, steps, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, conditions, steps, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}

	s.cache.Delete(activePoliciesKey)
	return nil
}

// GetByID returns a policy by ID.
func (s *PolicyService) GetByID(ctx context.Context, id string) (*model.EscalationPolicy, error) {
	p, err := scanPolicy(s.db.QueryRow(ctx,
		`SELECT id, name, description, conditions, steps, is_active, created_at, updated_at
		 FROM escalation_policies WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// GetByName returns a policy by its unique name, or nil when absent.
func (s *PolicyService) GetByName(ctx context.Context, name string) (*model.EscalationPolicy, error) {
	p, err := scanPolicy(s.db.QueryRow(ctx,
		`SELECT id, name, description, conditions, steps, is_active, created_at, updated_at
		 FROM escalation_policies WHERE name = $1`, name,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy by name: %w", err)
	}
	return p, nil
}

// List returns all policies, active first.
func (s *PolicyService) List(ctx context.Context) ([]model.EscalationPolicy, error) {
	return s.list(ctx, false)
}

// GetActivePolicies returns the active policies, served from the TTL cache
// between refreshes.
func (s *PolicyService) GetActivePolicies(ctx context.Context) ([]model.EscalationPolicy, error) {
	if item := s.cache.Get(activePoliciesKey); item != nil {
		return item.Value(), nil
	}

	policies, err := s.list(ctx, true)
	if err != nil {
		return nil, err
	}
	s.cache.Set(activePoliciesKey, policies, ttlcache.DefaultTTL)
	return policies, nil
}

func (s *PolicyService) list(ctx context.Context, activeOnly bool) ([]model.EscalationPolicy, error) {
	query := `SELECT id, name, description, conditions, steps, is_active, created_at, updated_at
	          FROM escalation_policies`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []model.EscalationPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// Update validates and replaces a policy's definition.
func (s *PolicyService) Update(ctx context.Context, p *model.EscalationPolicy) (*model.EscalationPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return nil, fmt.Errorf("encode conditions: %w", err)
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}

	updated, err := scanPolicy(s.db.QueryRow(ctx,
		`UPDATE escalation_policies
		 SET name = $1, description = $2, conditions = $3, steps = $4, is_active = $5, updated_at = $6
		 WHERE id = $7
		 RETURNING id, name, description, conditions, steps, is_active, created_at, updated_at`,
		p.Name, p.Description, conditions, steps, p.IsActive, time.Now(), p.ID,
	))
	if err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}

	s.cache.Delete(activePoliciesKey)
	return updated, nil
}

// Delete removes a policy. Its escalation events remain for history.
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM escalation_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	s.cache.Delete(activePoliciesKey)
	return nil
}
