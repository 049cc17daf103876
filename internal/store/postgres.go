package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (tests use pgxmock here).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS bookings (
	county          TEXT NOT NULL,
	booking_number  TEXT NOT NULL,
	record          JSONB NOT NULL,
	first_seen_at   TIMESTAMPTZ NOT NULL,
	last_seen_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (county, booking_number)
);

CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	county             TEXT NOT NULL,
	booking_number     TEXT NOT NULL,
	record             JSONB NOT NULL,
	score              INTEGER,
	bucket             TEXT,
	assessment         JSONB,
	state              TEXT NOT NULL DEFAULT 'new',
	alerted            BOOLEAN NOT NULL DEFAULT FALSE,
	alert_severity     TEXT,
	historical_match   JSONB,
	intake_ref         TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	last_transition_at TIMESTAMPTZ NOT NULL,
	UNIQUE (county, booking_number)
);

CREATE TABLE IF NOT EXISTS lead_transitions (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	event      TEXT NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_state ON leads(state);
CREATE INDEX IF NOT EXISTS idx_leads_county ON leads(county);
CREATE INDEX IF NOT EXISTS idx_leads_last_transition ON leads(last_transition_at);
CREATE INDEX IF NOT EXISTS idx_leads_intake_ref ON leads(intake_ref);
CREATE INDEX IF NOT EXISTS idx_lead_transitions_lead_id ON lead_transitions(lead_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertBooking(ctx context.Context, rec model.ArrestRecord, seenAt time.Time) (UpsertResult, error) {
	county, bookingNumber := rec.NaturalKey()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: marshal record")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (county, booking_number, record, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (county, booking_number) DO NOTHING`,
		county, bookingNumber, recordJSON, seenAt.UTC(), seenAt.UTC(),
	)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: insert booking")
	}
	if tag.RowsAffected() == 1 {
		return UpsertResult{Outcome: BookingNew, NewStatus: rec.Status}, nil
	}

	var storedJSON []byte
	err = s.pool.QueryRow(ctx,
		`SELECT record FROM bookings WHERE county = $1 AND booking_number = $2`,
		county, bookingNumber,
	).Scan(&storedJSON)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: load stored booking")
	}

	var stored model.ArrestRecord
	if err := json.Unmarshal(storedJSON, &stored); err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: unmarshal stored booking")
	}

	result := UpsertResult{
		Outcome:       BookingDuplicate,
		PrevStatus:    stored.Status,
		NewStatus:     rec.Status,
		StatusChanged: stored.Status != rec.Status,
		BondChanged:   stored.BondAmountCents != rec.BondAmountCents,
	}
	if result.StatusChanged || result.BondChanged {
		result.Outcome = BookingUpdated
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE bookings SET record = $1, last_seen_at = $2 WHERE county = $3 AND booking_number = $4`,
		recordJSON, seenAt.UTC(), county, bookingNumber,
	)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: update booking")
	}

	return result, nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	recordJSON, err := json.Marshal(lead.Record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal lead record")
	}

	county, bookingNumber := lead.Record.NaturalKey()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, county, booking_number, record, state, created_at, last_transition_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, county, bookingNumber, recordJSON,
		string(lead.State), lead.CreatedAt.UTC(), lead.LastTransitionAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert lead")
}

const pgLeadSelect = `SELECT id, record, score, bucket, assessment, state, alerted, alert_severity, historical_match, intake_ref, created_at, last_transition_at FROM leads`

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, pgLeadSelect+` WHERE id = $1`, id)
	return scanPgLead(row)
}

func (s *PostgresStore) GetLeadByBooking(ctx context.Context, county, bookingNumber string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		pgLeadSelect+` WHERE county = $1 AND booking_number = $2`,
		model.NormalizeKeyPart(county), model.NormalizeKeyPart(bookingNumber),
	)
	return scanPgLead(row)
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := pgLeadSelect + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.State != "" {
		query += ` AND state = ` + arg(string(filter.State))
	}
	if filter.County != "" {
		query += ` AND county = ` + arg(model.NormalizeKeyPart(filter.County))
	}
	if filter.Bucket != "" {
		query += ` AND bucket = ` + arg(string(filter.Bucket))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) SetScore(ctx context.Context, leadID string, score int, bucket model.Bucket) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET score = $1, bucket = $2 WHERE id = $3 AND score IS NULL`,
		score, string(bucket), leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set score %s", leadID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetAssessment(ctx context.Context, leadID string, a model.AiAssessment) (bool, error) {
	assessmentJSON, err := json.Marshal(a)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal assessment")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET assessment = $1 WHERE id = $2 AND assessment IS NULL`,
		assessmentJSON, leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set assessment %s", leadID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TransitionLead(ctx context.Context, leadID string, from, to model.LeadState, event string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE leads SET state = $1, last_transition_at = $2 WHERE id = $3 AND state = $4`,
		string(to), at.UTC(), leadID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lead_transitions (id, lead_id, from_state, to_state, event, at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), leadID, string(from), string(to), event, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record transition %s", leadID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit transition")
}

func (s *PostgresStore) MarkAlerted(ctx context.Context, leadID, severity string, match *model.HistoricalBondRecord) error {
	var matchJSON []byte
	if match != nil {
		b, err := json.Marshal(match)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal historical match")
		}
		matchJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET alerted = TRUE, alert_severity = $1, historical_match = COALESCE($2, historical_match) WHERE id = $3`,
		severity, matchJSON, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark alerted %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return nil
}

func (s *PostgresStore) SetIntakeRef(ctx context.Context, leadID, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET intake_ref = $1 WHERE id = $2`,
		ref, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set intake ref %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return nil
}

func (s *PostgresStore) GetLeadByIntakeRef(ctx context.Context, ref string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, pgLeadSelect+` WHERE intake_ref = $1`, ref)
	return scanPgLead(row)
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		pgLeadSelect+` WHERE state IN ($1, $2) AND last_transition_at <= $3 ORDER BY last_transition_at ASC`,
		string(model.LeadStateQualified), string(model.LeadStateIntakeQueued), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list stale iterate")
}

func (s *PostgresStore) ListTransitions(ctx context.Context, leadID string) ([]model.Transition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lead_id, from_state, to_state, event, at FROM lead_transitions
		 WHERE lead_id = $1 ORDER BY at ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transitions")
	}
	defer rows.Close()

	var out []model.Transition
	for rows.Next() {
		var t model.Transition
		var from, to string
		if err := rows.Scan(&t.LeadID, &from, &to, &t.Event, &t.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition")
		}
		t.FromState = model.LeadState(from)
		t.ToState = model.LeadState(to)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transitions iterate")
}

// helpers

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var recordJSON []byte
	var score *int
	var bucket, severity, intakeRef *string
	var assessment, matchJSON []byte
	var state string

	err := row.Scan(&l.ID, &recordJSON, &score, &bucket, &assessment, &state,
		&l.Alerted, &severity, &matchJSON, &intakeRef, &l.CreatedAt, &l.LastTransitionAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}

	if err := json.Unmarshal(recordJSON, &l.Record); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal lead record")
	}
	if score != nil {
		l.Score = *score
	}
	if bucket != nil {
		l.Bucket = model.Bucket(*bucket)
	}
	if len(assessment) > 0 {
		l.AiAssessment = &model.AiAssessment{}
		if err := json.Unmarshal(assessment, l.AiAssessment); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal assessment")
		}
	}
	if len(matchJSON) > 0 {
		l.HistoricalMatch = &model.HistoricalBondRecord{}
		if err := json.Unmarshal(matchJSON, l.HistoricalMatch); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal historical match")
		}
	}
	l.State = model.LeadState(state)
	if severity != nil {
		l.AlertSeverity = *severity
	}
	if intakeRef != nil {
		l.IntakeRef = *intakeRef
	}
	return &l, nil
}
