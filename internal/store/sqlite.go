package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS bookings (
	county          TEXT NOT NULL,
	booking_number  TEXT NOT NULL,
	record          TEXT NOT NULL,
	first_seen_at   DATETIME NOT NULL,
	last_seen_at    DATETIME NOT NULL,
	PRIMARY KEY (county, booking_number)
);

CREATE TABLE IF NOT EXISTS leads (
	id                 TEXT PRIMARY KEY,
	county             TEXT NOT NULL,
	booking_number     TEXT NOT NULL,
	record             TEXT NOT NULL,
	score              INTEGER,
	bucket             TEXT,
	assessment         TEXT,
	state              TEXT NOT NULL DEFAULT 'new',
	alerted            INTEGER NOT NULL DEFAULT 0,
	alert_severity     TEXT,
	historical_match   TEXT,
	intake_ref         TEXT,
	created_at         DATETIME NOT NULL,
	last_transition_at DATETIME NOT NULL,
	UNIQUE (county, booking_number)
);

CREATE TABLE IF NOT EXISTS lead_transitions (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	event      TEXT NOT NULL,
	at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_state ON leads(state);
CREATE INDEX IF NOT EXISTS idx_leads_county ON leads(county);
CREATE INDEX IF NOT EXISTS idx_leads_last_transition ON leads(last_transition_at);
CREATE INDEX IF NOT EXISTS idx_leads_intake_ref ON leads(intake_ref);
CREATE INDEX IF NOT EXISTS idx_lead_transitions_lead_id ON lead_transitions(lead_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertBooking inserts the natural key with ON CONFLICT DO NOTHING; the
// insert either claims the key (new booking) or loses to a prior claim, in
// which case the stored record is compared for status-relevant changes.
func (s *SQLiteStore) UpsertBooking(ctx context.Context, rec model.ArrestRecord, seenAt time.Time) (UpsertResult, error) {
	county, bookingNumber := rec.NaturalKey()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: marshal record")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (county, booking_number, record, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (county, booking_number) DO NOTHING`,
		county, bookingNumber, string(recordJSON), seenAt.UTC(), seenAt.UTC(),
	)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: insert booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return UpsertResult{Outcome: BookingNew, NewStatus: rec.Status}, nil
	}

	// Key already claimed: this is a re-scrape. Load the stored record and
	// diff the fields the state machine cares about.
	var storedJSON string
	err = s.db.QueryRowContext(ctx,
		`SELECT record FROM bookings WHERE county = ? AND booking_number = ?`,
		county, bookingNumber,
	).Scan(&storedJSON)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: load stored booking")
	}

	var stored model.ArrestRecord
	if err := json.Unmarshal([]byte(storedJSON), &stored); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: unmarshal stored booking")
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

	_, err = s.db.ExecContext(ctx,
		`UPDATE bookings SET record = ?, last_seen_at = ? WHERE county = ? AND booking_number = ?`,
		string(recordJSON), seenAt.UTC(), county, bookingNumber,
	)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: update booking")
	}

	return result, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	recordJSON, err := json.Marshal(lead.Record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal lead record")
	}

	county, bookingNumber := lead.Record.NaturalKey()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, county, booking_number, record, state, created_at, last_transition_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, county, bookingNumber, string(recordJSON),
		string(lead.State), lead.CreatedAt.UTC(), lead.LastTransitionAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, leadSelect+` WHERE id = ?`, id)
	return scanLead(row)
}

func (s *SQLiteStore) GetLeadByBooking(ctx context.Context, county, bookingNumber string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		leadSelect+` WHERE county = ? AND booking_number = ?`,
		model.NormalizeKeyPart(county), model.NormalizeKeyPart(bookingNumber),
	)
	return scanLead(row)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := leadSelect + ` WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.County != "" {
		query += ` AND county = ?`
		args = append(args, model.NormalizeKeyPart(filter.County))
	}
	if filter.Bucket != "" {
		query += ` AND bucket = ?`
		args = append(args, string(filter.Bucket))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

// SetScore writes the score only when none is present. Re-entrant scoring
// is a no-op by design.
func (s *SQLiteStore) SetScore(ctx context.Context, leadID string, score int, bucket model.Bucket) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET score = ?, bucket = ? WHERE id = ? AND score IS NULL`,
		score, string(bucket), leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set score %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) SetAssessment(ctx context.Context, leadID string, a model.AiAssessment) (bool, error) {
	assessmentJSON, err := json.Marshal(a)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal assessment")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET assessment = ? WHERE id = ? AND assessment IS NULL`,
		string(assessmentJSON), leadID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set assessment %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// TransitionLead is the serialization point for concurrent transition
// requests: the conditional UPDATE matches only when the lead is still in
// the expected from-state, so of two racing requests exactly one wins.
func (s *SQLiteStore) TransitionLead(ctx context.Context, leadID string, from, to model.LeadState, event string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET state = ?, last_transition_at = ? WHERE id = ? AND state = ?`,
		string(to), at.UTC(), leadID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrStateConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO lead_transitions (id, lead_id, from_state, to_state, event, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), leadID, string(from), string(to), event, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record transition %s", leadID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

func (s *SQLiteStore) MarkAlerted(ctx context.Context, leadID, severity string, match *model.HistoricalBondRecord) error {
	var matchJSON any
	if match != nil {
		b, err := json.Marshal(match)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal historical match")
		}
		matchJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET alerted = 1, alert_severity = ?, historical_match = COALESCE(?, historical_match) WHERE id = ?`,
		severity, matchJSON, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark alerted %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

// SetIntakeRef records the external worklist page backing this lead, so the
// staff-approval path can close the loop on the page later.
func (s *SQLiteStore) SetIntakeRef(ctx context.Context, leadID, ref string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET intake_ref = ? WHERE id = ?`,
		ref, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set intake ref %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) GetLeadByIntakeRef(ctx context.Context, ref string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, leadSelect+` WHERE intake_ref = ?`, ref)
	return scanLead(row)
}

func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		leadSelect+` WHERE state IN (?, ?) AND last_transition_at <= ? ORDER BY last_transition_at ASC`,
		string(model.LeadStateQualified), string(model.LeadStateIntakeQueued), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list stale iterate")
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, leadID string) ([]model.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lead_id, from_state, to_state, event, at FROM lead_transitions
		 WHERE lead_id = ? ORDER BY at ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transitions")
	}
	defer rows.Close()

	var out []model.Transition
	for rows.Next() {
		var t model.Transition
		var from, to string
		if err := rows.Scan(&t.LeadID, &from, &to, &t.Event, &t.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transition")
		}
		t.FromState = model.LeadState(from)
		t.ToState = model.LeadState(to)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transitions iterate")
}

// helpers

const leadSelect = `SELECT id, record, score, bucket, assessment, state, alerted, alert_severity, historical_match, intake_ref, created_at, last_transition_at FROM leads`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var recordJSON string
	var score sql.NullInt64
	var bucket, assessment, severity, matchJSON, intakeRef sql.NullString
	var state string
	var alerted int

	err := row.Scan(&l.ID, &recordJSON, &score, &bucket, &assessment, &state,
		&alerted, &severity, &matchJSON, &intakeRef, &l.CreatedAt, &l.LastTransitionAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}

	if err := json.Unmarshal([]byte(recordJSON), &l.Record); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal lead record")
	}
	if score.Valid {
		l.Score = int(score.Int64)
	}
	if bucket.Valid {
		l.Bucket = model.Bucket(bucket.String)
	}
	if assessment.Valid {
		l.AiAssessment = &model.AiAssessment{}
		if err := json.Unmarshal([]byte(assessment.String), l.AiAssessment); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal assessment")
		}
	}
	if matchJSON.Valid {
		l.HistoricalMatch = &model.HistoricalBondRecord{}
		if err := json.Unmarshal([]byte(matchJSON.String), l.HistoricalMatch); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal historical match")
		}
	}
	l.State = model.LeadState(state)
	l.Alerted = alerted == 1
	if severity.Valid {
		l.AlertSeverity = severity.String
	}
	if intakeRef.Valid {
		l.IntakeRef = intakeRef.String
	}
	return &l, nil
}
