package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ActorContext identifies the caller for idempotency purposes. Records are
// scoped by tenant, agent, key and endpoint so the same key may be reused
// across endpoints without collision.
type ActorContext struct {
	TenantID       string
	AgentID        string
	IdempotencyKey string
}

// IdempotencyStore is the narrow persistence surface the replay helpers need.
type IdempotencyStore interface {
	GetIdempotencyRecord(ctx context.Context, tenantID, agentID, idempotencyKey, endpoint string) (map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, tenantID, agentID, idempotencyKey, endpoint string, result map[string]any) error
}

// Replay returns the stored result for a previously executed request, if any.
// A missing key disables idempotency handling entirely.
func Replay(ctx context.Context, st IdempotencyStore, actor ActorContext, endpoint string) (map[string]any, bool, error) {
	if actor.IdempotencyKey == "" {
		return nil, false, nil
	}
	result, found, err := st.GetIdempotencyRecord(ctx, actor.TenantID, actor.AgentID, actor.IdempotencyKey, endpoint)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return result, true, nil
}

// SaveResult records the outcome of a completed request for later replay.
func SaveResult(ctx context.Context, st IdempotencyStore, actor ActorContext, endpoint string, result map[string]any) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, actor.TenantID, actor.AgentID, actor.IdempotencyKey, endpoint, result)
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, tenantID, agentID, idempotencyKey, endpoint string) (map[string]any, bool, error) {
	var body []byte
	err := s.DB.QueryRow(ctx, `
SELECT result FROM idempotency_records
WHERE tenant_id = $1 AND agent_id = $2 AND idempotency_key = $3 AND endpoint = $4`,
		tenantID, agentID, idempotencyKey, endpoint).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, tenantID, agentID, idempotencyKey, endpoint string, result map[string]any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO idempotency_records(tenant_id, agent_id, idempotency_key, endpoint, result)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (tenant_id, agent_id, idempotency_key, endpoint) DO NOTHING`,
		tenantID, agentID, idempotencyKey, endpoint, string(body))
	return err
}
