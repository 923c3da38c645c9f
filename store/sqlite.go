package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rushteam/oralcare/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'user',
	email_verified INTEGER NOT NULL DEFAULT 0,
	google_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	image_result TEXT NOT NULL,
	image_confidence REAL NOT NULL,
	metadata_probability REAL,
	final_score REAL NOT NULL,
	final_decision TEXT NOT NULL,
	recommendation TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_user_created ON records(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	rating INTEGER,
	source TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// SQLiteStore 是单文件 SQLite 实现的 Repository，适合单机部署。
// 时间以 UTC 微秒整数存储。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（或创建）数据库文件并建表
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// WAL 与 busy_timeout 需对连接池中每个连接生效，因此放在 DSN 中
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("sqlite open", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable("sqlite create schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "sqlite unavailable", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func sqliteErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrStoreNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return core.ErrStoreConflict
	}
	return unavailable(op, err)
}

func micros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (s *SQLiteStore) CreateUser(ctx context.Context, u *core.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password, role, email_verified, google_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.EmailVerified, u.GoogleID, micros(u.CreatedAt))
	if err != nil {
		return sqliteErr("sqlite insert user", err)
	}
	return nil
}

const userColumns = `id, name, email, password, role, email_verified, google_id, created_at`

func scanUser(row *sql.Row) (*core.User, error) {
	var u core.User
	var created int64
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified, &u.GoogleID, &created); err != nil {
		return nil, sqliteErr("sqlite scan user", err)
	}
	u.CreatedAt = fromMicros(created)
	return &u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *core.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, password = ?, role = ?, email_verified = ?, google_id = ? WHERE id = ?`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.EmailVerified, u.GoogleID, u.ID)
	if err != nil {
		return sqliteErr("sqlite update user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrStoreNotFound
	}
	return nil
}

func (s *SQLiteStore) InsertRecord(ctx context.Context, r *core.PredictionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	var meta string
	if len(r.Metadata) > 0 {
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(data)
	}
	var prob sql.NullFloat64
	if r.MetadataProbability != nil {
		prob = sql.NullFloat64{Float64: *r.MetadataProbability, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, user_id, image_result, image_confidence, metadata_probability, final_score, final_decision, recommendation, metadata, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.ImageResult), r.ImageConfidence, prob, r.FinalScore, string(r.FinalDecision),
		r.Recommendation, meta, r.ImageURL, micros(r.CreatedAt))
	if err != nil {
		return sqliteErr("sqlite insert record", err)
	}
	return nil
}

const recordColumns = `id, user_id, image_result, image_confidence, metadata_probability, final_score, final_decision, recommendation, metadata, image_url, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.PredictionRecord, error) {
	var (
		r       core.PredictionRecord
		prob    sql.NullFloat64
		meta    string
		created int64
		result  string
		final   string
	)
	if err := row.Scan(&r.ID, &r.UserID, &result, &r.ImageConfidence, &prob, &r.FinalScore, &final,
		&r.Recommendation, &meta, &r.ImageURL, &created); err != nil {
		return nil, sqliteErr("sqlite scan record", err)
	}
	r.ImageResult = core.Decision(result)
	r.FinalDecision = core.Decision(final)
	if prob.Valid {
		p := prob.Float64
		r.MetadataProbability = &p
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
	}
	r.CreatedAt = fromMicros(created)
	return &r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, userID string, limit int) ([]*core.PredictionRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite 中 LIMIT -1 表示不限
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, sqliteErr("sqlite list records", err)
	}
	defer rows.Close()

	out := []*core.PredictionRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("sqlite list records", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, userID, recordID string) (*core.PredictionRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ? AND user_id = ?`, recordID, userID))
}

func (s *SQLiteStore) InsertFeedback(ctx context.Context, f *core.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	var rating sql.NullInt64
	if f.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*f.Rating), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, content, rating, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Content, rating, f.Source, micros(f.CreatedAt))
	if err != nil {
		return sqliteErr("sqlite insert feedback", err)
	}
	return nil
}

var _ core.Repository = (*SQLiteStore)(nil)
