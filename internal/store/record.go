package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/markbook/internal/model"
)

const recordColumns = `id, user_id, filename, file_path, image_url, mime_type, original_text,
	analysis_result, score, status, uploaded_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.ExamRecord, error) {
	var (
		r      model.ExamRecord
		userID sql.NullInt64
		score  sql.NullInt64
	)
	err := row.Scan(&r.ID, &userID, &r.Filename, &r.FilePath, &r.ImageURL, &r.MIMEType, &r.OriginalText,
		&r.AnalysisResult, &score, &r.Status, &r.UploadedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if userID.Valid {
		id := userID.Int64
		r.UserID = &id
	}
	if score.Valid {
		v := int(score.Int64)
		r.Score = &v
	}
	return r, nil
}

// prepareNewRecord fills identity and timestamps for a record about to be created.
func prepareNewRecord(rec model.ExamRecord) model.ExamRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = model.StatusUploaded
	}
	return rec
}

// applyUpdate runs fn on a copy of cur and checks the status transition.
func applyUpdate(cur model.ExamRecord, fn func(*model.ExamRecord) error) (model.ExamRecord, error) {
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	if next.Status != cur.Status && !model.CanTransition(cur.Status, next.Status) {
		return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	next.ID = cur.ID
	next.UploadedAt = cur.UploadedAt
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// CreateRecord stores a new record, assigning its ID and timestamps.
func (s *Store) CreateRecord(ctx context.Context, rec model.ExamRecord) (model.ExamRecord, error) {
	rec = prepareNewRecord(rec)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Filename, rec.FilePath, rec.ImageURL, rec.MIMEType, rec.OriginalText,
		rec.AnalysisResult, rec.Score, rec.Status, rec.UploadedAt, rec.UpdatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// GetRecord returns a record by ID, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id string) (*model.ExamRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM exam_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRecord applies fn to the stored record inside a transaction.
func (s *Store) UpdateRecord(ctx context.Context, id string, fn func(*model.ExamRecord) error) (*model.ExamRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cur, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM exam_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	next, err := applyUpdate(cur, fn)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE exam_records SET user_id = ?, filename = ?, file_path = ?, image_url = ?, mime_type = ?,
		 original_text = ?, analysis_result = ?, score = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		next.UserID, next.Filename, next.FilePath, next.ImageURL, next.MIMEType,
		next.OriginalText, next.AnalysisResult, next.Score, next.Status, next.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

// ListRecords returns matching records, newest first.
func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ExamRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM exam_records WHERE 1=1`
	var args []any
	if filter.UserID != nil {
		query += ` AND user_id = ?`
		args = append(args, *filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY uploaded_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.ExamRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
