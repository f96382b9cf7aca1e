package versions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// versionRecord is the database row of one Entry. Files and Error are stored as JSON text.
type versionRecord struct {
	ID          string    `gorm:"primarykey;size:36"`
	WorkspaceID string    `gorm:"index;not null;size:64"`
	Seq         int64     `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
	Description string
	Files       string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
}

func (versionRecord) TableName() string { return "workspace_versions" }

// GormPersister stores versions through gorm.
type GormPersister struct {
	db *gorm.DB
}

// OpenDatabase opens dsn with the Postgres driver for postgres URLs or key/value
// DSNs and with the pure Go SQLite driver otherwise.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to versions database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if isPostgresDSN(dsn) {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// SQLite serializes writers.
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// NewGormPersister migrates the versions table and returns a persister.
func NewGormPersister(db *gorm.DB) (*GormPersister, error) {
	if err := db.AutoMigrate(&versionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate versions table: %w", err)
	}
	return &GormPersister{db: db}, nil
}

// Save inserts e for workspaceID.
func (p *GormPersister) Save(workspaceID string, e Entry) error {
	files, err := json.Marshal(e.Files)
	if err != nil {
		return fmt.Errorf("failed to encode files: %w", err)
	}
	var seq int64
	if err := p.db.Model(&versionRecord{}).Where("workspace_id = ?", workspaceID).Count(&seq).Error; err != nil {
		return fmt.Errorf("failed to count versions: %w", err)
	}
	rec := versionRecord{
		ID:          e.ID,
		WorkspaceID: workspaceID,
		Seq:         seq,
		CreatedAt:   e.Timestamp,
		Description: e.Description,
		Files:       string(files),
	}
	if e.Error != nil {
		raw, err := json.Marshal(e.Error)
		if err != nil {
			return fmt.Errorf("failed to encode error details: %w", err)
		}
		rec.Error = string(raw)
	}
	if err := p.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save version %s: %w", e.ID, err)
	}
	return nil
}

// Load returns the stored entries of workspaceID, oldest first.
func (p *GormPersister) Load(workspaceID string) ([]Entry, error) {
	var recs []versionRecord
	if err := p.db.Where("workspace_id = ?", workspaceID).Order("seq asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load versions: %w", err)
	}

	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e := Entry{ID: rec.ID, Timestamp: rec.CreatedAt, Description: rec.Description}
		var files []workspace.File
		if err := json.Unmarshal([]byte(rec.Files), &files); err != nil {
			return nil, fmt.Errorf("failed to decode files of version %s: %w", rec.ID, err)
		}
		e.Files = files
		if rec.Error != "" {
			var d diagnosis.Details
			if err := json.Unmarshal([]byte(rec.Error), &d); err != nil {
				return nil, fmt.Errorf("failed to decode error of version %s: %w", rec.ID, err)
			}
			e.Error = &d
		}
		out = append(out, e)
	}
	return out, nil
}
