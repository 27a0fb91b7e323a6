package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/technosupport/ts-radio/internal/calls"
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Postgres is the durable store + ledger. The calls table enforces
// call_id uniqueness; the ledger insert is idempotent on message_id, so
// the store is the backstop against router races in a clustered
// deployment.
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

const upsertCallQuery = `
	INSERT INTO calls (
		call_id, system_id, talkgroup, unit, state, start_time, end_time,
		call_length, audio_file, audio_type, error_cause, payload,
		last_activity_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (call_id) DO UPDATE SET
		state = EXCLUDED.state,
		end_time = EXCLUDED.end_time,
		call_length = EXCLUDED.call_length,
		audio_file = EXCLUDED.audio_file,
		audio_type = EXCLUDED.audio_type,
		error_cause = EXCLUDED.error_cause,
		payload = EXCLUDED.payload,
		last_activity_at = EXCLUDED.last_activity_at,
		updated_at = EXCLUDED.updated_at`

const insertLedgerQuery = `
	INSERT INTO call_ledger (call_id, seq, topic, message_id, observed_at, tag, note)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (message_id) DO NOTHING`

// Commit writes the record and the ledger entry in one transaction.
func (p *Postgres) Commit(ctx context.Context, callID string, rec *calls.CallRecord, entry *calls.ProvenanceEntry) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if rec != nil {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		_, err = tx.ExecContext(ctx, upsertCallQuery,
			rec.CallID, rec.SystemID, rec.Talkgroup, rec.Unit, string(rec.State),
			rec.StartTime, rec.EndTime, rec.CallLength,
			nullStr(rec.AudioFile), nullStr(rec.AudioType), nullStr(rec.ErrorCause),
			payload, rec.LastActivityAt, rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert call: %w", err)
		}
	}

	if entry != nil {
		_, err = tx.ExecContext(ctx, insertLedgerQuery,
			callID, entry.Seq, entry.Topic, entry.MessageID,
			entry.ObservedAt, string(entry.Tag), nullStr(entry.Note),
		)
		if err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
	}

	return tx.Commit()
}

const selectCallQuery = `
	SELECT call_id, system_id, talkgroup, unit, state, start_time, end_time,
	       call_length, audio_file, audio_type, error_cause, payload,
	       last_activity_at, updated_at
	FROM calls WHERE call_id = $1`

func (p *Postgres) Get(ctx context.Context, callID string) (*calls.CallRecord, error) {
	rec, err := scanCall(p.DB.QueryRowContext(ctx, selectCallQuery, callID))
	if err == sql.ErrNoRows {
		return nil, calls.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.RawMessages, err = p.ListLedger(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return rec, nil
}

func (p *Postgres) ListLedger(ctx context.Context, callID string) ([]calls.ProvenanceEntry, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT seq, topic, message_id, observed_at, tag, note
		FROM call_ledger WHERE call_id = $1 ORDER BY seq ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []calls.ProvenanceEntry
	for rows.Next() {
		var e calls.ProvenanceEntry
		var tag string
		var note sql.NullString
		if err := rows.Scan(&e.Seq, &e.Topic, &e.MessageID, &e.ObservedAt, &tag, &note); err != nil {
			return nil, err
		}
		e.Tag = calls.ProvenanceTag(tag)
		e.Note = note.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Query(ctx context.Context, f calls.Filter) ([]*calls.CallRecord, error) {
	q := `SELECT call_id, system_id, talkgroup, unit, state, start_time, end_time,
	             call_length, audio_file, audio_type, error_cause, payload,
	             last_activity_at, updated_at
	      FROM calls WHERE 1=1`
	var args []any
	idx := 1

	add := func(clause string, val any) {
		q += fmt.Sprintf(" AND "+clause, idx)
		args = append(args, val)
		idx++
	}

	if f.SystemID != "" {
		add("system_id = $%d", f.SystemID)
	}
	if f.Talkgroup != 0 {
		add("talkgroup = $%d", f.Talkgroup)
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if f.NonTerminal {
		q += " AND state IN ('STARTING', 'RECORDING')"
	}
	if !f.StaleBefore.IsZero() {
		add("last_activity_at < $%d", f.StaleBefore)
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time <= $%d", f.To)
	}

	q += " ORDER BY start_time DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
	}

	rows, err := p.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*calls.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*calls.CallRecord, error) {
	var rec calls.CallRecord
	var state string
	var endTime sql.NullTime
	var length sql.NullFloat64
	var audioFile, audioType, cause sql.NullString
	var payload []byte

	err := row.Scan(
		&rec.CallID, &rec.SystemID, &rec.Talkgroup, &rec.Unit, &state,
		&rec.StartTime, &endTime, &length, &audioFile, &audioType, &cause,
		&payload, &rec.LastActivityAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.State = calls.State(state)
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	if length.Valid {
		l := length.Float64
		rec.CallLength = &l
	}
	rec.AudioFile = audioFile.String
	rec.AudioType = audioType.String
	rec.ErrorCause = cause.String
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &rec.Payload)
	}
	return &rec, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
