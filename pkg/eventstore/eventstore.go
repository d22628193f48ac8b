package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Schema creates the domain_events table. The unique (aggregate_id, version)
// pair is what makes two appends at the same expected version mutually exclusive.
const Schema = `
CREATE TABLE IF NOT EXISTS domain_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_id   UUID NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	metadata       JSONB NOT NULL DEFAULT '{}',
	version        INT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);
CREATE INDEX IF NOT EXISTS domain_events_type_idx ON domain_events (aggregate_type, recorded_at);`

// Event is one versioned fact about an aggregate (a scheduled event, a reward record).
type Event struct {
	ID            int64           `json:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent marshals data into an Event ready to append.
func NewEvent(aggregateType, eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{AggregateType: aggregateType, EventType: eventType, EventData: raw}, nil
}

// Store is the append/load contract shared by the Postgres and in-memory stores.
type Store interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error)
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	RecordedAt    time.Time `db:"recorded_at"`
}

func (r eventRow) toEvent() (Event, error) {
	ev := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     json.RawMessage(r.Payload),
		Version:       r.Version,
		CreatedAt:     r.RecordedAt,
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "{}" && string(r.Metadata) != "null" {
		if err := json.Unmarshal(r.Metadata, &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata of event %d: %w", r.ID, err)
		}
	}
	return ev, nil
}

// EventStore is the Postgres-backed Store.
type EventStore struct {
	db        *sqlx.DB
	tracer    trace.Tracer
	conflicts metric.Int64Counter
}

// NewEventStore creates a Postgres event store over an open pool.
func NewEventStore(db *sqlx.DB, log *slog.Logger) *EventStore {
	conflicts, err := otel.Meter("campusevents/eventstore").Int64Counter("eventstore.conflicts",
		metric.WithDescription("appends rejected because the expected version was stale"))
	if err != nil {
		log.Warn("metric registration failed", "err", err)
	}
	return &EventStore{
		db:        db,
		tracer:    otel.Tracer("campusevents/eventstore"),
		conflicts: conflicts,
	}
}

// Migrate creates the domain_events table if it does not exist.
func (es *EventStore) Migrate(ctx context.Context) error {
	if _, err := es.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate domain_events: %w", err)
	}
	return nil
}

// AppendEvents atomically appends events if the aggregate is still at expectedVersion.
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	err := es.append(ctx, aggregateID, aggregateType, expectedVersion, events)
	if errors.Is(err, ErrConcurrencyConflict) {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		if es.conflicts != nil {
			es.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate.type", aggregateType)))
		}
	}
	return err
}

func (es *EventStore) append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	tx, err := es.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := AppendTx(ctx, tx, aggregateID, aggregateType, expectedVersion, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AppendTx appends events inside the caller's transaction, so a store can
// commit its own row change and the matching events together. The caller
// commits; a lost race surfaces as ErrConcurrencyConflict.
func AppendTx(ctx context.Context, tx *sqlx.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	var current int
	if err := tx.GetContext(ctx, &current,
		`SELECT COALESCE(MAX(version), 0) FROM domain_events WHERE aggregate_id = $1`, aggregateID); err != nil {
		return fmt.Errorf("query current version: %w", err)
	}
	if current != expectedVersion {
		return ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, ev := range events {
		meta := []byte("{}")
		if ev.Metadata != nil {
			var err error
			if meta, err = json.Marshal(ev.Metadata); err != nil {
				return fmt.Errorf("marshal metadata of %s: %w", ev.EventType, err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO domain_events (aggregate_id, aggregate_type, event_type, payload, metadata, version, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			aggregateID, aggregateType, ev.EventType, string(ev.EventData), string(meta), expectedVersion+i+1, now)
		if err != nil {
			if isConflict(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert %s: %w", ev.EventType, err)
		}
	}
	return nil
}

// isConflict reports a lost race: 23505 is a duplicate version, 40001 a
// serialization failure.
func isConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40001")
}

// LoadEvents returns an aggregate's events in version order. toVersion <= 0 means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload, metadata, version, recorded_at
		FROM domain_events
		WHERE aggregate_id = $1 AND version >= $2`
	args := []any{aggregateID, fromVersion}
	if toVersion > 0 {
		query += " AND version <= $3"
		args = append(args, toVersion)
	}
	query += " ORDER BY version"

	var rows []eventRow
	if err := es.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version for an aggregate, 0 if it has none.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	var version int
	if err := es.db.GetContext(ctx, &version,
		`SELECT COALESCE(MAX(version), 0) FROM domain_events WHERE aggregate_id = $1`, aggregateID); err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}
