package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const counterRowID = 1

// counterRow is the single-row table holding the last issued pass id.
type counterRow struct {
	ID     uint `gorm:"primaryKey"`
	LastID uint64
}

func (counterRow) TableName() string { return "pass_counter" }

// submissionRow adds an insertion sequence so exports keep completion order.
type submissionRow struct {
	Seq uint64 `gorm:"primaryKey;autoIncrement"`
	Submission
}

func (submissionRow) TableName() string { return "pass_submissions" }

// SQL stores passes through gorm; sqlite and postgres dialectors are wired in Open.
type SQL struct {
	*PendingTable

	db *gorm.DB
}

// NewSQL migrates the schema on db and returns the store.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database handle required", ErrStorage)
	}
	if err := db.AutoMigrate(&counterRow{}, &submissionRow{}); err != nil {
		return nil, storageErr("migrate", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counterRow{ID: counterRowID}).Error; err != nil {
		return nil, storageErr("seed counter", err)
	}
	return &SQL{PendingTable: NewPendingTable(), db: db}, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQL) Counter(ctx context.Context) (uint64, error) {
	var row counterRow
	if err := s.db.WithContext(ctx).First(&row, counterRowID).Error; err != nil {
		return 0, storageErr("read counter", err)
	}
	return row.LastID, nil
}

func (s *SQL) IncrementCounter(ctx context.Context) (uint64, error) {
	var row counterRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&counterRow{}).Where("id = ?", counterRowID).
			UpdateColumn("last_id", gorm.Expr("last_id + ?", 1)).Error; err != nil {
			return err
		}
		return tx.First(&row, counterRowID).Error
	})
	if err != nil {
		return 0, storageErr("increment counter", err)
	}
	return row.LastID, nil
}

func (s *SQL) Submission(ctx context.Context, identity string) (Submission, bool, error) {
	var row submissionRow
	err := s.db.WithContext(ctx).Where("identity = ?", identity).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, storageErr("read submission", err)
	}
	return row.Submission, true, nil
}

func (s *SQL) AppendSubmission(ctx context.Context, sub Submission) error {
	if strings.TrimSpace(sub.Identity) == "" {
		return ErrIdentityRequired
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&submissionRow{}).Where("identity = ?", sub.Identity).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateSubmission
		}
		return tx.Create(&submissionRow{Submission: sub}).Error
	})
	return storageErr("append submission", err)
}

func (s *SQL) Submissions(ctx context.Context) ([]Submission, error) {
	var rows []submissionRow
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, storageErr("list submissions", err)
	}
	out := make([]Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Submission)
	}
	return out, nil
}
