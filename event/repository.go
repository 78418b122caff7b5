// Package event records which payment events have been handled.
package event

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/driver"
	"goflare.io/storefront/models"
)

var ErrNotFound = errors.New("event not found")

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

const (
	createEventSQL = `
INSERT INTO payment_events (id, type, processed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`

	getEventSQL = `SELECT id, type, processed, created_at, updated_at FROM payment_events WHERE id = $1`

	markProcessedSQL = `UPDATE payment_events SET processed = true, updated_at = $2 WHERE id = $1`
)

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, event *models.Event) error {
	_, err := r.conn.Exec(ctx, createEventSQL,
		event.ID, string(event.Type), event.Processed, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create event", zap.String("event_id", event.ID), zap.Error(err))
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var (
		event     models.Event
		eventType string
	)
	err := r.conn.QueryRow(ctx, getEventSQL, id).
		Scan(&event.ID, &eventType, &event.Processed, &event.CreatedAt, &event.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	event.Type = stripe.EventType(eventType)
	return &event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, markProcessedSQL, id, time.Now())
	return err
}
