package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glizzus/delay-relay/internal/relay"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 50

type EventFilter struct {
	SpeakerName string
	MimicID     string
	Since       time.Time
	Limit       int
}

type EventPersister interface {
	Save(ctx context.Context, events ...relay.Event) error
}

type EventLister interface {
	List(ctx context.Context, filter EventFilter) ([]relay.Event, error)
}

type PostgresEventRepository struct {
	db *pgxpool.Pool
}

func NewPostgresEventRepository(db *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func EventToRowParams(e relay.Event) []any {
	return []any{
		e.ID,
		string(e.Kind),
		e.MimicID,
		int64(e.SpeakerSession),
		e.SpeakerName,
		e.MimicName,
		int64(e.MimicSession),
		e.At,
		e.Detail,
	}
}

// Save stores events. An event whose id is already stored is skipped, so
// redelivered stream entries are harmless.
func (r *PostgresEventRepository) Save(ctx context.Context, events ...relay.Event) error {
	const eventQuery = `
	INSERT INTO relay_event (
		id, kind, mimic_id, speaker_session, speaker_name,
		mimic_name, mimic_session, occurred_at, detail
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(eventQuery, EventToRowParams(e)...)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save %d events: %w", len(events), err)
	}
	return nil
}

// HandleEvents saves events so the repository can be a stream consumer's
// durable handler.
func (r *PostgresEventRepository) HandleEvents(ctx context.Context, events ...relay.Event) error {
	return r.Save(ctx, events...)
}

// List returns matching events, newest first.
func (r *PostgresEventRepository) List(ctx context.Context, filter EventFilter) ([]relay.Event, error) {
	const listQuery = `
	SELECT id, kind, mimic_id, speaker_session, speaker_name,
		mimic_name, mimic_session, occurred_at, detail
	FROM relay_event
	WHERE ($1 = '' OR speaker_name = $1)
		AND ($2 = '' OR mimic_id = $2)
		AND occurred_at >= $3
	ORDER BY occurred_at DESC, id
	LIMIT $4
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(ctx, listQuery, filter.SpeakerName, filter.MimicID, filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (relay.Event, error) {
		var (
			e              relay.Event
			kind           string
			speakerSession int64
			mimicSession   int64
		)
		err := row.Scan(
			&e.ID,
			&kind,
			&e.MimicID,
			&speakerSession,
			&e.SpeakerName,
			&e.MimicName,
			&mimicSession,
			&e.At,
			&e.Detail,
		)
		e.At = e.At.UTC()
		e.Kind = relay.EventKind(kind)
		e.SpeakerSession = uint32(speakerSession)
		e.MimicSession = uint32(mimicSession)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, nil
}

var (
	_ EventPersister = (*PostgresEventRepository)(nil)
	_ EventLister    = (*PostgresEventRepository)(nil)
)
