package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
	"github.com/Hunter28-lucky/ai-calling-agent/migrations"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows one writer at a time; writes are serialized here so a
	// status update never races a concurrent insert into SQLITE_BUSY.
	writeMu sync.Mutex
	now     func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	store := &SQLiteStore{Path: path, db: db, now: time.Now}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppliedMigrations(ctx context.Context) ([]string, error) {
	return migrations.Applied(ctx, s.db)
}

const sqliteCallColumns = `id, phone_number, room_name, dispatch_id, status, duration, notes,
CAST(created_at AS TEXT), CAST(ended_at AS TEXT),
cost_transport, cost_stt, cost_tts, cost_llm, total_cost_usd, total_cost_inr`

func (s *SQLiteStore) CreateCall(ctx context.Context, call *Call) error {
	if call == nil {
		return nil
	}
	normalizeCall(call, s.now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO calls (
    phone_number, room_name, dispatch_id, status, duration, notes, created_at,
    cost_transport, cost_stt, cost_tts, cost_llm, total_cost_usd, total_cost_inr
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			call.PhoneNumber, call.RoomName, call.DispatchID, string(call.Status), call.DurationSeconds,
			call.Notes, call.CreatedAt,
			call.CostTransport, call.CostSTT, call.CostTTS, call.CostLLM, call.TotalCostUSD, call.TotalCostINR,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		call.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("create call for %q: %w", call.PhoneNumber, err)
	}
	return nil
}

func (s *SQLiteStore) GetCall(ctx context.Context, id int64) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteCallColumns+` FROM calls WHERE id = ?`, id)
	call, err := scanSQLiteCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call %d: %w", id, err)
	}
	return call, nil
}

func (s *SQLiteStore) GetCallByRoom(ctx context.Context, roomName string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteCallColumns+` FROM calls WHERE room_name = ? ORDER BY id DESC LIMIT 1`, roomName)
	call, err := scanSQLiteCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call for room %q: %w", roomName, err)
	}
	return call, nil
}

func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]*Call, error) {
	query := `SELECT ` + sqliteCallColumns + ` FROM calls`
	args := make([]any, 0, 2)
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]*Call, 0, 16)
	for rows.Next() {
		call, err := scanSQLiteCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		out = append(out, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateCall(ctx context.Context, id int64, patch Patch) (*Call, error) {
	if patch.Empty() {
		return nil, ErrEmptyUpdate
	}
	args := []any{patch.statusArg(), patch.notesArg(), patch.durationArg()}
	args = append(args, patch.costArgs()...)
	args = append(args, patch.endedAtArg(), id)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updated *Call
	err := retrySQLiteBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
UPDATE calls SET
    status = COALESCE(?, status),
    notes = COALESCE(?, notes),
    duration = COALESCE(?, duration),
    cost_transport = COALESCE(?, cost_transport),
    cost_stt = COALESCE(?, cost_stt),
    cost_tts = COALESCE(?, cost_tts),
    cost_llm = COALESCE(?, cost_llm),
    total_cost_usd = COALESCE(?, total_cost_usd),
    total_cost_inr = COALESCE(?, total_cost_inr),
    ended_at = COALESCE(ended_at, ?)
WHERE id = ?
RETURNING `+sqliteCallColumns, args...)
		call, err := scanSQLiteCall(row)
		if err != nil {
			return err
		}
		updated = call
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update call %d: %w", id, err)
	}
	return updated, nil
}

func (s *SQLiteStore) SummarizeCosts(ctx context.Context, filter CostFilter) (*cost.Sums, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if !filter.From.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.To.UTC())
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	var sums cost.Sums
	err := s.db.QueryRowContext(ctx, `
SELECT
    COUNT(*),
    COALESCE(SUM(duration), 0),
    COALESCE(SUM(cost_transport), 0),
    COALESCE(SUM(cost_stt), 0),
    COALESCE(SUM(cost_tts), 0),
    COALESCE(SUM(cost_llm), 0),
    COALESCE(SUM(total_cost_usd), 0),
    COALESCE(SUM(total_cost_inr), 0)
FROM calls
WHERE `+where, args...).Scan(
		&sums.Calls, &sums.DurationSeconds,
		&sums.Transport, &sums.STT, &sums.TTS, &sums.LLM,
		&sums.TotalUSD, &sums.TotalINR,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize call costs: %w", err)
	}
	return &sums, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count calls by status: %w", err)
	}
	defer rows.Close()
	return scanStatusCounts(rows)
}

func (s *SQLiteStore) CostEntriesSince(ctx context.Context, from time.Time) ([]cost.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT CAST(created_at AS TEXT), duration, cost_transport, cost_stt, cost_tts, cost_llm, total_cost_usd, total_cost_inr
FROM calls
WHERE created_at >= ?
ORDER BY created_at`, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("list cost entries: %w", err)
	}
	defer rows.Close()

	out := make([]cost.Entry, 0, 64)
	for rows.Next() {
		var (
			createdAt string
			entry     cost.Entry
		)
		if err := rows.Scan(&createdAt, &entry.DurationSeconds,
			&entry.Cost.Transport, &entry.Cost.STT, &entry.Cost.TTS, &entry.Cost.LLM,
			&entry.Cost.TotalUSD, &entry.Cost.TotalINR,
		); err != nil {
			return nil, fmt.Errorf("scan cost entry: %w", err)
		}
		if entry.CreatedAt, err = parseSQLiteTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		entry.Cost.DurationSeconds = entry.DurationSeconds
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost entries: %w", err)
	}
	return out, nil
}

const sqliteContactColumns = `id, name, phone_number, company, notes, tags, CAST(created_at AS TEXT), CAST(last_called AS TEXT)`

func (s *SQLiteStore) CreateContact(ctx context.Context, contact *Contact) error {
	if contact == nil {
		return nil
	}
	if err := contact.Normalize(); err != nil {
		return err
	}
	normalizeContact(contact, s.now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO contacts (name, phone_number, company, notes, tags, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			contact.Name, contact.PhoneNumber, contact.Company, contact.Notes, contact.Tags, contact.CreatedAt,
		)
		if err != nil {
			return err
		}
		contact.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("create contact %q: %w", contact.PhoneNumber, err)
	}
	return nil
}

func (s *SQLiteStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteContactColumns+` FROM contacts WHERE id = ?`, id)
	contact, err := scanSQLiteContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %d: %w", id, err)
	}
	return contact, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context, search string) ([]*Contact, error) {
	query := `SELECT ` + sqliteContactColumns + ` FROM contacts`
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		pattern := searchPattern(search)
		query += ` WHERE name LIKE ? OR phone_number LIKE ? OR company LIKE ?`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := make([]*Contact, 0, 16)
	for rows.Next() {
		contact, err := scanSQLiteContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		out = append(out, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, contact *Contact) error {
	if contact == nil {
		return nil
	}
	if err := contact.Normalize(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var affected int64
	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
UPDATE contacts SET name = ?, phone_number = ?, company = ?, notes = ?, tags = ?
WHERE id = ?`,
			contact.Name, contact.PhoneNumber, contact.Company, contact.Notes, contact.Tags, contact.ID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("update contact %d: %w", contact.ID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteContact(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var affected int64
	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountContacts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) TouchContact(ctx context.Context, phoneNumber string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE contacts SET last_called = ? WHERE phone_number = ?`, at.UTC(), phoneNumber)
		return err
	})
	if err != nil {
		return fmt.Errorf("touch contact %q: %w", phoneNumber, err)
	}
	return nil
}

func (s *SQLiteStore) AddTranscript(ctx context.Context, entry *TranscriptEntry) error {
	if entry == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls WHERE id = ?`, entry.CallID).Scan(&exists); err != nil {
		return fmt.Errorf("check call %d: %w", entry.CallID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	err := retrySQLiteBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO transcripts (call_id, speaker, message, timestamp) VALUES (?, ?, ?, ?)`,
			entry.CallID, entry.Speaker, entry.Message, entry.Timestamp,
		)
		if err != nil {
			return err
		}
		entry.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("add transcript for call %d: %w", entry.CallID, err)
	}
	return nil
}

func (s *SQLiteStore) ListTranscript(ctx context.Context, callID int64) ([]TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, call_id, speaker, message, CAST(timestamp AS TEXT)
FROM transcripts
WHERE call_id = ?
ORDER BY timestamp, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("list transcript for call %d: %w", callID, err)
	}
	defer rows.Close()

	out := make([]TranscriptEntry, 0, 32)
	for rows.Next() {
		var (
			entry TranscriptEntry
			ts    string
		)
		if err := rows.Scan(&entry.ID, &entry.CallID, &entry.Speaker, &entry.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		if entry.Timestamp, err = parseSQLiteTimestamp(ts); err != nil {
			return nil, fmt.Errorf("parse transcript timestamp: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCall(scanner rowScanner) (*Call, error) {
	var (
		call      Call
		status    string
		createdAt string
		endedAt   sql.NullString
	)
	if err := scanner.Scan(
		&call.ID, &call.PhoneNumber, &call.RoomName, &call.DispatchID, &status,
		&call.DurationSeconds, &call.Notes, &createdAt, &endedAt,
		&call.CostTransport, &call.CostSTT, &call.CostTTS, &call.CostLLM,
		&call.TotalCostUSD, &call.TotalCostINR,
	); err != nil {
		return nil, err
	}
	call.Status = Status(status)

	var err error
	if call.CreatedAt, err = parseSQLiteTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if call.EndedAt, err = parseNullableSQLiteTimestamp(endedAt); err != nil {
		return nil, fmt.Errorf("parse ended_at: %w", err)
	}
	return &call, nil
}

func scanSQLiteContact(scanner rowScanner) (*Contact, error) {
	var (
		contact    Contact
		createdAt  string
		lastCalled sql.NullString
	)
	if err := scanner.Scan(
		&contact.ID, &contact.Name, &contact.PhoneNumber, &contact.Company,
		&contact.Notes, &contact.Tags, &createdAt, &lastCalled,
	); err != nil {
		return nil, err
	}

	var err error
	if contact.CreatedAt, err = parseSQLiteTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if contact.LastCalled, err = parseNullableSQLiteTimestamp(lastCalled); err != nil {
		return nil, fmt.Errorf("parse last_called: %w", err)
	}
	return &contact, nil
}

func scanStatusCounts(rows *sql.Rows) (map[Status]int64, error) {
	counts := make(map[Status]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func parseNullableSQLiteTimestamp(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	parsed, err := parseSQLiteTimestamp(raw.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	withTZLayouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
	}
	for _, layout := range withTZLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	withoutTZLayouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
	}
	for _, layout := range withoutTZLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format %q", value)
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries lock contention with capped exponential backoff.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
