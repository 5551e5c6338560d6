package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pavelanni/markbook/internal/model"
)

type pgRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	UserID         *int64 `gorm:"index"`
	Filename       string `gorm:"not null"`
	FilePath       string
	ImageURL       string
	MIMEType       string `gorm:"column:mime_type"`
	OriginalText   string `gorm:"type:text"`
	AnalysisResult string `gorm:"type:text"`
	Score          *int
	Status         string    `gorm:"size:32;index"`
	UploadedAt     time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (pgRecord) TableName() string { return "exam_records" }

type pgUser struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;not null"`
	DisplayName  string
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"size:16"`
	Active       bool
	CreatedAt    time.Time
}

func (pgUser) TableName() string { return "users" }

type pgAuthSession struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    int64  `gorm:"index"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (pgAuthSession) TableName() string { return "auth_sessions" }

func toPGRecord(r model.ExamRecord) pgRecord {
	return pgRecord{
		ID:             r.ID,
		UserID:         r.UserID,
		Filename:       r.Filename,
		FilePath:       r.FilePath,
		ImageURL:       r.ImageURL,
		MIMEType:       r.MIMEType,
		OriginalText:   r.OriginalText,
		AnalysisResult: r.AnalysisResult,
		Score:          r.Score,
		Status:         string(r.Status),
		UploadedAt:     r.UploadedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (p pgRecord) toModel() model.ExamRecord {
	return model.ExamRecord{
		ID:             p.ID,
		UserID:         p.UserID,
		Filename:       p.Filename,
		FilePath:       p.FilePath,
		ImageURL:       p.ImageURL,
		MIMEType:       p.MIMEType,
		OriginalText:   p.OriginalText,
		AnalysisResult: p.AnalysisResult,
		Score:          p.Score,
		Status:         model.RecordStatus(p.Status),
		UploadedAt:     p.UploadedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
}

func (p pgUser) toModel() *model.User {
	return &model.User{
		ID:           p.ID,
		Username:     p.Username,
		DisplayName:  p.DisplayName,
		PasswordHash: p.PasswordHash,
		Role:         model.UserRole(p.Role),
		Active:       p.Active,
		CreatedAt:    p.CreatedAt,
	}
}

// Postgres is the gorm-backed Backend for deployments that outgrow SQLite.
type Postgres struct {
	db *gorm.DB
}

var _ Backend = (*Postgres)(nil)

// NewPostgres connects to dsn and migrates the schema.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&pgUser{}, &pgAuthSession{}, &pgRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) CreateRecord(ctx context.Context, rec model.ExamRecord) (model.ExamRecord, error) {
	rec = prepareNewRecord(rec)
	row := toPGRecord(rec)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return rec, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

func (p *Postgres) GetRecord(ctx context.Context, id string) (*model.ExamRecord, error) {
	var row pgRecord
	err := p.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r := row.toModel()
	return &r, nil
}

func (p *Postgres) UpdateRecord(ctx context.Context, id string, fn func(*model.ExamRecord) error) (*model.ExamRecord, error) {
	var out model.ExamRecord
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row pgRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := applyUpdate(row.toModel(), fn)
		if err != nil {
			return err
		}
		updated := toPGRecord(next)
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Postgres) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ExamRecord, error) {
	q := p.db.WithContext(ctx).Model(&pgRecord{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var rows []pgRecord
	if err := q.Order("uploaded_at DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.ExamRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u model.User) (int64, error) {
	row := pgUser{
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Active:       u.Active,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
		return 0, err
	}
	return row.ID, nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return p.getUser(ctx, "username = ?", username)
}

func (p *Postgres) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return p.getUser(ctx, "id = ?", id)
}

func (p *Postgres) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var row pgUser
	err := p.db.WithContext(ctx).Where(where, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (p *Postgres) UserCount(ctx context.Context) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&pgUser{}).Count(&n).Error
	return int(n), err
}

func (p *Postgres) CreateAuthSession(ctx context.Context, userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	row := pgAuthSession{ID: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(authSessionTTL)}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return token, nil
}

func (p *Postgres) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	var row pgAuthSession
	err := p.db.WithContext(ctx).First(&row, "id = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(row.ExpiresAt) {
		_ = p.DeleteAuthSession(ctx, token)
		return nil, nil
	}
	return &model.AuthSession{ID: row.ID, UserID: row.UserID, CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt}, nil
}

func (p *Postgres) DeleteAuthSession(ctx context.Context, token string) error {
	return p.db.WithContext(ctx).Delete(&pgAuthSession{}, "id = ?", token).Error
}

func (p *Postgres) CleanupExpiredSessions(ctx context.Context) error {
	return p.db.WithContext(ctx).Where("expires_at < ?", time.Now().UTC()).Delete(&pgAuthSession{}).Error
}
