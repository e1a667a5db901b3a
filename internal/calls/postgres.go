package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/cost"
	"github.com/Hunter28-lucky/ai-calling-agent/migrations"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	DSN string
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{DSN: dsn, db: db, now: time.Now}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) configure() error {
	s.db.SetMaxOpenConns(20)
	s.db.SetMaxIdleConns(10)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppliedMigrations(ctx context.Context) ([]string, error) {
	return migrations.Applied(ctx, s.db)
}

const postgresCallColumns = `id, phone_number, room_name, dispatch_id, status, duration, notes,
created_at, ended_at,
cost_transport, cost_stt, cost_tts, cost_llm, total_cost_usd, total_cost_inr`

func (s *PostgresStore) CreateCall(ctx context.Context, call *Call) error {
	if call == nil {
		return nil
	}
	normalizeCall(call, s.now())

	err := s.db.QueryRowContext(ctx, `
INSERT INTO calls (
    phone_number, room_name, dispatch_id, status, duration, notes, created_at,
    cost_transport, cost_stt, cost_tts, cost_llm, total_cost_usd, total_cost_inr
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
		call.PhoneNumber, call.RoomName, call.DispatchID, string(call.Status), call.DurationSeconds,
		call.Notes, call.CreatedAt,
		call.CostTransport, call.CostSTT, call.CostTTS, call.CostLLM, call.TotalCostUSD, call.TotalCostINR,
	).Scan(&call.ID)
	if err != nil {
		return fmt.Errorf("create call for %q: %w", call.PhoneNumber, err)
	}
	return nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id int64) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresCallColumns+` FROM calls WHERE id = $1`, id)
	call, err := scanPostgresCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call %d: %w", id, err)
	}
	return call, nil
}

func (s *PostgresStore) GetCallByRoom(ctx context.Context, roomName string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresCallColumns+` FROM calls WHERE room_name = $1 ORDER BY id DESC LIMIT 1`, roomName)
	call, err := scanPostgresCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call for room %q: %w", roomName, err)
	}
	return call, nil
}

func (s *PostgresStore) ListCalls(ctx context.Context, filter CallFilter) ([]*Call, error) {
	builder := newPostgresWhereBuilder()
	if filter.Status != "" {
		builder.addComparison("status", "=", string(filter.Status))
	}
	limit := builder.addArg(normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `SELECT `+postgresCallColumns+` FROM calls WHERE `+builder.where()+
		` ORDER BY created_at DESC, id DESC LIMIT `+limit, builder.args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	out := make([]*Call, 0, 16)
	for rows.Next() {
		call, err := scanPostgresCall(rows)
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

func (s *PostgresStore) UpdateCall(ctx context.Context, id int64, patch Patch) (*Call, error) {
	if patch.Empty() {
		return nil, ErrEmptyUpdate
	}
	args := []any{patch.statusArg(), patch.notesArg(), patch.durationArg()}
	args = append(args, patch.costArgs()...)
	args = append(args, patch.endedAtArg(), id)

	row := s.db.QueryRowContext(ctx, `
UPDATE calls SET
    status = COALESCE($1::text, status),
    notes = COALESCE($2::text, notes),
    duration = COALESCE($3::integer, duration),
    cost_transport = COALESCE($4::double precision, cost_transport),
    cost_stt = COALESCE($5::double precision, cost_stt),
    cost_tts = COALESCE($6::double precision, cost_tts),
    cost_llm = COALESCE($7::double precision, cost_llm),
    total_cost_usd = COALESCE($8::double precision, total_cost_usd),
    total_cost_inr = COALESCE($9::double precision, total_cost_inr),
    ended_at = COALESCE(ended_at, $10::timestamptz)
WHERE id = $11
RETURNING `+postgresCallColumns, args...)
	call, err := scanPostgresCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update call %d: %w", id, err)
	}
	return call, nil
}

func (s *PostgresStore) SummarizeCosts(ctx context.Context, filter CostFilter) (*cost.Sums, error) {
	builder := newPostgresWhereBuilder()
	if !filter.From.IsZero() {
		builder.addComparison("created_at", ">=", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		builder.addComparison("created_at", "<", filter.To.UTC())
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
WHERE `+builder.where(), builder.args...).Scan(
		&sums.Calls, &sums.DurationSeconds,
		&sums.Transport, &sums.STT, &sums.TTS, &sums.LLM,
		&sums.TotalUSD, &sums.TotalINR,
	)
	if err != nil {
		return nil, fmt.Errorf("summarize call costs: %w", err)
	}
	return &sums, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM calls GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count calls by status: %w", err)
	}
	defer rows.Close()
	return scanStatusCounts(rows)
}

func (s *PostgresStore) CostEntriesSince(ctx context.Context, from time.Time) ([]cost.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT created_at, duration, cost_transport, cost_stt, cost_tts, cost_llm, total_cost_usd, total_cost_inr
FROM calls
WHERE created_at >= $1
ORDER BY created_at`, from.UTC())
	if err != nil {
		return nil, fmt.Errorf("list cost entries: %w", err)
	}
	defer rows.Close()

	out := make([]cost.Entry, 0, 64)
	for rows.Next() {
		var entry cost.Entry
		if err := rows.Scan(&entry.CreatedAt, &entry.DurationSeconds,
			&entry.Cost.Transport, &entry.Cost.STT, &entry.Cost.TTS, &entry.Cost.LLM,
			&entry.Cost.TotalUSD, &entry.Cost.TotalINR,
		); err != nil {
			return nil, fmt.Errorf("scan cost entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entry.Cost.DurationSeconds = entry.DurationSeconds
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost entries: %w", err)
	}
	return out, nil
}

const postgresContactColumns = `id, name, phone_number, company, notes, tags, created_at, last_called`

func (s *PostgresStore) CreateContact(ctx context.Context, contact *Contact) error {
	if contact == nil {
		return nil
	}
	if err := contact.Normalize(); err != nil {
		return err
	}
	normalizeContact(contact, s.now())

	err := s.db.QueryRowContext(ctx, `
INSERT INTO contacts (name, phone_number, company, notes, tags, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		contact.Name, contact.PhoneNumber, contact.Company, contact.Notes, contact.Tags, contact.CreatedAt,
	).Scan(&contact.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("create contact %q: %w", contact.PhoneNumber, err)
	}
	return nil
}

func (s *PostgresStore) GetContact(ctx context.Context, id int64) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresContactColumns+` FROM contacts WHERE id = $1`, id)
	contact, err := scanPostgresContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %d: %w", id, err)
	}
	return contact, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, search string) ([]*Contact, error) {
	builder := newPostgresWhereBuilder()
	if search = strings.TrimSpace(search); search != "" {
		pattern := builder.addArg(searchPattern(search))
		builder.addCondition("(name ILIKE " + pattern + " OR phone_number ILIKE " + pattern + " OR company ILIKE " + pattern + ")")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+postgresContactColumns+` FROM contacts WHERE `+builder.where()+` ORDER BY name, id`, builder.args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := make([]*Contact, 0, 16)
	for rows.Next() {
		contact, err := scanPostgresContact(rows)
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

func (s *PostgresStore) UpdateContact(ctx context.Context, contact *Contact) error {
	if contact == nil {
		return nil
	}
	if err := contact.Normalize(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE contacts SET name = $1, phone_number = $2, company = $3, notes = $4, tags = $5
WHERE id = $6`,
		contact.Name, contact.PhoneNumber, contact.Company, contact.Notes, contact.Tags, contact.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("update contact %d: %w", contact.ID, err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) DeleteContact(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) CountContacts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) TouchContact(ctx context.Context, phoneNumber string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE contacts SET last_called = $1 WHERE phone_number = $2`, at.UTC(), phoneNumber); err != nil {
		return fmt.Errorf("touch contact %q: %w", phoneNumber, err)
	}
	return nil
}

func (s *PostgresStore) AddTranscript(ctx context.Context, entry *TranscriptEntry) error {
	if entry == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	err := s.db.QueryRowContext(ctx, `
INSERT INTO transcripts (call_id, speaker, message, timestamp) VALUES ($1, $2, $3, $4)
RETURNING id`,
		entry.CallID, entry.Speaker, entry.Message, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		if isPostgresForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("add transcript for call %d: %w", entry.CallID, err)
	}
	return nil
}

func (s *PostgresStore) ListTranscript(ctx context.Context, callID int64) ([]TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, call_id, speaker, message, timestamp
FROM transcripts
WHERE call_id = $1
ORDER BY timestamp, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("list transcript for call %d: %w", callID, err)
	}
	defer rows.Close()

	out := make([]TranscriptEntry, 0, 32)
	for rows.Next() {
		var entry TranscriptEntry
		if err := rows.Scan(&entry.ID, &entry.CallID, &entry.Speaker, &entry.Message, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		entry.Timestamp = entry.Timestamp.UTC()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return out, nil
}

type postgresWhereBuilder struct {
	conditions []string
	args       []any
}

func newPostgresWhereBuilder() *postgresWhereBuilder {
	return &postgresWhereBuilder{
		conditions: make([]string, 0, 4),
		args:       make([]any, 0, 4),
	}
}

func (b *postgresWhereBuilder) addArg(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *postgresWhereBuilder) addComparison(column, operator string, value any) {
	placeholder := b.addArg(value)
	b.conditions = append(b.conditions, column+" "+operator+" "+placeholder)
}

func (b *postgresWhereBuilder) addCondition(condition string) {
	b.conditions = append(b.conditions, condition)
}

func (b *postgresWhereBuilder) where() string {
	if len(b.conditions) == 0 {
		return "1=1"
	}
	return strings.Join(b.conditions, " AND ")
}

func scanPostgresCall(scanner rowScanner) (*Call, error) {
	var (
		call    Call
		status  string
		endedAt sql.NullTime
	)
	if err := scanner.Scan(
		&call.ID, &call.PhoneNumber, &call.RoomName, &call.DispatchID, &status,
		&call.DurationSeconds, &call.Notes, &call.CreatedAt, &endedAt,
		&call.CostTransport, &call.CostSTT, &call.CostTTS, &call.CostLLM,
		&call.TotalCostUSD, &call.TotalCostINR,
	); err != nil {
		return nil, err
	}
	call.Status = Status(status)
	call.CreatedAt = call.CreatedAt.UTC()
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		call.EndedAt = &ended
	}
	return &call, nil
}

func scanPostgresContact(scanner rowScanner) (*Contact, error) {
	var (
		contact    Contact
		lastCalled sql.NullTime
	)
	if err := scanner.Scan(
		&contact.ID, &contact.Name, &contact.PhoneNumber, &contact.Company,
		&contact.Notes, &contact.Tags, &contact.CreatedAt, &lastCalled,
	); err != nil {
		return nil, err
	}
	contact.CreatedAt = contact.CreatedAt.UTC()
	if lastCalled.Valid {
		at := lastCalled.Time.UTC()
		contact.LastCalled = &at
	}
	return &contact, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isPostgresForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503"
}
