// Package store is the durable persistence layer for Request, Attempt, and
// DeadLetter rows over Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"smsgateway/internal/db"
	"smsgateway/internal/domain"
)

// ErrNotFound is returned by GetRequest when no row matches the id.
var ErrNotFound = fmt.Errorf("store: request not found")

// Store executes one SQL statement per operation; writes are row-level
// atomic.
type Store struct {
	db     *db.PostgresDB
	logger *zap.Logger
}

func New(pg *db.PostgresDB, logger *zap.Logger) *Store {
	return &Store{db: pg, logger: logger}
}

// CreateRequest inserts a new request row in PENDING status.
func (s *Store) CreateRequest(ctx context.Context, req *domain.Request) error {
	query := `INSERT INTO requests (id, phone, text, status, attempts_count, last_provider_id, excluded_providers, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.Phone, req.Text, req.Status, req.AttemptsCount,
		req.LastProviderID, pq.Array(req.ExcludedProviders), req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create request: %w", err)
	}
	s.logger.Info("request created", zap.String("request_id", req.ID.String()), zap.String("phone", req.Phone))
	return nil
}

// MarkInFlight sets status=IN_FLIGHT, bumps attempts_count, and records the
// provider chosen for this attempt.
func (s *Store) MarkInFlight(ctx context.Context, requestID uuid.UUID, providerID string) error {
	query := `UPDATE requests SET status = $2, last_provider_id = $3, attempts_count = attempts_count + 1, updated_at = $4
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, requestID, domain.StatusInFlight, providerID, time.Now())
	if err != nil {
		return fmt.Errorf("store: mark in flight: %w", err)
	}
	return nil
}

// AppendAttempt inserts one Attempt row for a dispatch try.
func (s *Store) AppendAttempt(ctx context.Context, a *domain.Attempt) error {
	latencyMS := a.EndedAt.Sub(a.StartedAt).Milliseconds()
	query := `INSERT INTO attempts (request_id, provider_id, started_at, ended_at, latency_ms, status, http_status, response_body_truncated, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		a.RequestID, a.ProviderID, a.StartedAt, a.EndedAt, latencyMS, a.Status, a.HTTPStatus, a.ResponseBodyTruncated, a.ErrorMessage)
	if err != nil {
		return fmt.Errorf("store: append attempt: %w", err)
	}
	return nil
}

// MarkSucceeded sets status=SUCCEEDED, terminal.
func (s *Store) MarkSucceeded(ctx context.Context, requestID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE requests SET status = $2, updated_at = $3 WHERE id = $1`,
		requestID, domain.StatusSucceeded, time.Now())
	if err != nil {
		return fmt.Errorf("store: mark succeeded: %w", err)
	}
	return nil
}

// MarkFailedPermanent sets status=FAILED_PERMANENT, terminal, and updates the
// exclusion set for audit.
func (s *Store) MarkFailedPermanent(ctx context.Context, requestID uuid.UUID, excludedProviders []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = $2, excluded_providers = $3, updated_at = $4 WHERE id = $1`,
		requestID, domain.StatusFailedPermanent, pq.Array(excludedProviders), time.Now())
	if err != nil {
		return fmt.Errorf("store: mark failed permanent: %w", err)
	}
	return nil
}

// UpdateExcludedProviders persists the exclusion set accumulated across
// retries so a crash-restart can resume with the correct candidate pool.
func (s *Store) UpdateExcludedProviders(ctx context.Context, requestID uuid.UUID, excludedProviders []string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE requests SET excluded_providers = $2, updated_at = $3 WHERE id = $1`,
		requestID, pq.Array(excludedProviders), time.Now())
	if err != nil {
		return fmt.Errorf("store: update excluded providers: %w", err)
	}
	return nil
}

// RecordDeadLetter writes the terminal-failure audit row.
func (s *Store) RecordDeadLetter(ctx context.Context, dl *domain.DeadLetter) error {
	query := `INSERT INTO dead_letters (request_id, reason, attempts_snapshot, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, dl.RequestID, dl.Reason, dl.AttemptsSnapshot, dl.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record dead letter: %w", err)
	}
	s.logger.Warn("request dead-lettered", zap.String("request_id", dl.RequestID.String()), zap.String("reason", string(dl.Reason)))
	return nil
}

// GetRequest loads a single request by id.
func (s *Store) GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.Request, error) {
	query := `SELECT id, phone, text, status, attempts_count, last_provider_id, excluded_providers, created_at, updated_at
		FROM requests WHERE id = $1`

	var req domain.Request
	var excluded []string
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.ID, &req.Phone, &req.Text, &req.Status, &req.AttemptsCount, &req.LastProviderID,
		pq.Array(&excluded), &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get request: %w", err)
	}
	req.ExcludedProviders = excluded
	return &req, nil
}

// ListFilter narrows ListRequests.
type ListFilter struct {
	Status     domain.RequestStatus
	ProviderID string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// ListRequests returns requests matching filter, most recent first.
func (s *Store) ListRequests(ctx context.Context, filter ListFilter) ([]*domain.Request, error) {
	query := `SELECT id, phone, text, status, attempts_count, last_provider_id, excluded_providers, created_at, updated_at
		FROM requests WHERE 1=1`
	var args []interface{}
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	if filter.ProviderID != "" {
		query += fmt.Sprintf(" AND last_provider_id = $%d", argN)
		args = append(args, filter.ProviderID)
		argN++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argN)
		args = append(args, filter.Since)
		argN++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argN)
		args = append(args, filter.Until)
		argN++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.Request
	for rows.Next() {
		var req domain.Request
		var excluded []string
		if err := rows.Scan(&req.ID, &req.Phone, &req.Text, &req.Status, &req.AttemptsCount,
			&req.LastProviderID, pq.Array(&excluded), &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan request row: %w", err)
		}
		req.ExcludedProviders = excluded
		out = append(out, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list requests row iteration: %w", err)
	}
	return out, nil
}

// ListAttempts returns every attempt recorded for a request, oldest first.
func (s *Store) ListAttempts(ctx context.Context, requestID uuid.UUID) ([]*domain.Attempt, error) {
	query := `SELECT id, request_id, provider_id, started_at, ended_at, status, http_status, response_body_truncated, error_message
		FROM attempts WHERE request_id = $1 ORDER BY started_at ASC`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ProviderID, &a.StartedAt, &a.EndedAt,
			&a.Status, &a.HTTPStatus, &a.ResponseBodyTruncated, &a.ErrorMessage); err != nil {
			return nil, fmt.Errorf("store: scan attempt row: %w", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list attempts row iteration: %w", err)
	}
	return out, nil
}

// SyncProviders mirrors the static provider config into the providers
// table at startup, so it can be inspected alongside request history.
// Config remains the source of truth; this is a queryable copy.
func (s *Store) SyncProviders(ctx context.Context, providers []domain.Provider) error {
	query := `INSERT INTO providers (id, url, weight, per_second_limit) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET url = EXCLUDED.url, weight = EXCLUDED.weight, per_second_limit = EXCLUDED.per_second_limit`
	for _, p := range providers {
		if _, err := s.db.ExecContext(ctx, query, p.ID, p.URL, p.Weight, p.PerSecondLimit); err != nil {
			return fmt.Errorf("store: sync provider %s: %w", p.ID, err)
		}
	}
	return nil
}

// Health pings the underlying connection, for the readiness endpoint.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
