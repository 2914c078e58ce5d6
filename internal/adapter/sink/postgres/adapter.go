// Package postgres writes canonical events to the relational sink. The
// event_id primary key plus ON CONFLICT DO NOTHING make every write
// idempotent: replaying the same event affects zero rows and is reported as
// a skipped duplicate, not an error.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/market-ingestor/internal/domain"
)

const createSchemaStmt = `
CREATE TABLE IF NOT EXISTS market_events (
	event_id       UUID        PRIMARY KEY,
	source         TEXT        NOT NULL,
	symbol         TEXT        NOT NULL,
	event_time     TIMESTAMPTZ NOT NULL,
	ingest_time    TIMESTAMPTZ NOT NULL,
	schema_version INT         NOT NULL,
	payload        JSONB       NOT NULL,
	inserted_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_market_events_symbol_time ON market_events (symbol, event_time);
CREATE INDEX IF NOT EXISTS idx_market_events_source_time ON market_events (source, event_time);
`

const insertEventStmt = `
INSERT INTO market_events (event_id, source, symbol, event_time, ingest_time, schema_version, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING;
`

// Adapter implements the relational sink over database/sql with the pq
// driver.
type Adapter struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAdapter(db *sql.DB, logger *slog.Logger) *Adapter {
	return &Adapter{db: db, logger: logger.With("component", "sink_postgres")}
}

func (a *Adapter) Name() string { return "postgres" }

// EnsureSchema creates the events table and indexes if missing.
func (a *Adapter) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, createSchemaStmt); err != nil {
		return fmt.Errorf("ensure market_events schema: %w", err)
	}
	return nil
}

// Write upserts one event keyed by event_id.
func (a *Adapter) Write(ctx context.Context, event domain.Event) (domain.SinkResult, error) {
	payload, err := payloadJSON(event)
	if err != nil {
		return domain.SinkFailed, err
	}

	res, err := a.db.ExecContext(ctx, insertEventStmt,
		event.ID,
		string(event.Source),
		event.Symbol,
		event.EventTime.UTC(),
		event.IngestTime.UTC(),
		event.SchemaVersion,
		payload,
	)
	if err != nil {
		return domain.SinkFailed, fmt.Errorf("insert event %s: %w", event.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return domain.SinkFailed, fmt.Errorf("insert event %s: rows affected: %w", event.ID, err)
	}
	if rows == 0 {
		a.logger.Debug("event already present, skipping", "event_id", event.ID)
		return domain.SinkSkippedDuplicate, nil
	}
	return domain.SinkWritten, nil
}

// payloadJSON renders the payload column. The source column disambiguates
// price and news shapes on read.
func payloadJSON(event domain.Event) ([]byte, error) {
	switch {
	case event.Price != nil:
		data, err := json.Marshal(event.Price)
		if err != nil {
			return nil, fmt.Errorf("marshal price payload for %s: %w", event.ID, err)
		}
		return data, nil
	case event.News != nil:
		data, err := json.Marshal(event.News)
		if err != nil {
			return nil, fmt.Errorf("marshal news payload for %s: %w", event.ID, err)
		}
		return data, nil
	}
	return nil, errors.New("event carries no payload")
}
