package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/markbook/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when an update would move a record's
	// status backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("already exists")
)

// RecordFilter narrows ListRecords. Zero values match everything.
type RecordFilter struct {
	UserID *int64
	Status model.RecordStatus
}

// RecordRepository persists exam-paper records.
type RecordRepository interface {
	CreateRecord(ctx context.Context, rec model.ExamRecord) (model.ExamRecord, error)
	GetRecord(ctx context.Context, id string) (*model.ExamRecord, error)
	UpdateRecord(ctx context.Context, id string, fn func(*model.ExamRecord) error) (*model.ExamRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.ExamRecord, error)
}

// UserRepository persists accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, u model.User) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	UserCount(ctx context.Context) (int, error)
}

// SessionRepository persists login sessions.
type SessionRepository interface {
	CreateAuthSession(ctx context.Context, userID int64) (string, error)
	GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error)
	DeleteAuthSession(ctx context.Context, token string) error
	CleanupExpiredSessions(ctx context.Context) error
}

// Backend is everything the HTTP API needs from storage.
type Backend interface {
	RecordRepository
	UserRepository
	SessionRepository
	Close() error
}

// Store is the SQLite-backed Backend.
type Store struct {
	db *sql.DB
}

var _ Backend = (*Store)(nil)

// New opens (or creates) the SQLite database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each new connection to :memory: is a separate empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exam_records (
		id TEXT PRIMARY KEY,
		user_id INTEGER,
		filename TEXT NOT NULL,
		file_path TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		original_text TEXT NOT NULL DEFAULT '',
		analysis_result TEXT NOT NULL DEFAULT '',
		score INTEGER,
		status TEXT NOT NULL DEFAULT 'uploaded',
		uploaded_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_exam_records_user ON exam_records(user_id, uploaded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
