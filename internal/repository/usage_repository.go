package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studymate/internal/model"
)

type UsageColumn string

const (
	ColumnDailyQuizQuestions  UsageColumn = "daily_quiz_questions"
	ColumnDailyTutorQuestions UsageColumn = "daily_tutor_questions"
	ColumnDailyCoachMsgs      UsageColumn = "daily_coach_msgs"
	ColumnTotalFilesUploaded  UsageColumn = "total_files_uploaded"
)

func (c UsageColumn) valid() bool {
	switch c {
	case ColumnDailyQuizQuestions, ColumnDailyTutorQuestions, ColumnDailyCoachMsgs, ColumnTotalFilesUploaded:
		return true
	}
	return false
}

type ConsumeResult struct {
	Allowed bool
	// Used is the counter value after the call; unchanged when not allowed.
	Used int
}

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Consume adds amount to col if the result stays within limit. The row insert,
// day rollover and conditional increment run in one transaction, and the
// increment is a single UPDATE guarded by "col + amount <= limit", so
// concurrent callers cannot push the counter past the limit.
func (r *UsageRepository) Consume(ctx context.Context, ownerID string, col UsageColumn, amount, limit int, today string) (ConsumeResult, error) {
	if !col.valid() {
		return ConsumeResult{}, fmt.Errorf("unknown usage column %q", col)
	}

	var result ConsumeResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureToday(tx, ownerID, today); err != nil {
			return err
		}

		res := tx.Model(&model.UsageCounter{}).
			Where(fmt.Sprintf("owner_id = ? AND %s + ? <= ?", col), ownerID, amount, limit).
			Update(string(col), gorm.Expr(fmt.Sprintf("%s + ?", col), amount))
		if res.Error != nil {
			return fmt.Errorf("increment %s failed: %w", col, res.Error)
		}
		result.Allowed = res.RowsAffected > 0

		used, err := readColumn(tx, ownerID, col)
		if err != nil {
			return err
		}
		result.Used = used
		return nil
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	return result, nil
}

// Release gives back amount units of col charged on day. The UPDATE is
// guarded by "col - amount >= 0", and daily columns only refund a charge
// made on the current day, so a refund never drives a counter negative or
// eats into the next day's allowance. It reports whether a row changed.
func (r *UsageRepository) Release(ctx context.Context, ownerID string, col UsageColumn, amount int, day string) (bool, error) {
	if !col.valid() {
		return false, fmt.Errorf("unknown usage column %q", col)
	}

	q := r.db.WithContext(ctx).Model(&model.UsageCounter{}).
		Where(fmt.Sprintf("owner_id = ? AND %s - ? >= 0", col), ownerID, amount)
	if col != ColumnTotalFilesUploaded {
		q = q.Where("last_reset_date = ?", day)
	}
	res := q.Update(string(col), gorm.Expr(fmt.Sprintf("%s - ?", col), amount))
	if res.Error != nil {
		return false, fmt.Errorf("release %s failed: %w", col, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetForDay returns the counter as seen on today, applying the rollover.
func (r *UsageRepository) GetForDay(ctx context.Context, ownerID, today string) (*model.UsageCounter, error) {
	var counter model.UsageCounter
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureToday(tx, ownerID, today); err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", ownerID).First(&counter).Error; err != nil {
			return fmt.Errorf("read usage counter failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func ensureToday(tx *gorm.DB, ownerID, today string) error {
	row := model.UsageCounter{OwnerID: ownerID, LastResetDate: today}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("init usage counter failed: %w", err)
	}

	err := tx.Model(&model.UsageCounter{}).
		Where("owner_id = ? AND last_reset_date <> ?", ownerID, today).
		Updates(map[string]interface{}{
			string(ColumnDailyQuizQuestions):  0,
			string(ColumnDailyTutorQuestions): 0,
			string(ColumnDailyCoachMsgs):      0,
			"last_reset_date":                 today,
		}).Error
	if err != nil {
		return fmt.Errorf("reset daily usage failed: %w", err)
	}
	return nil
}

func readColumn(tx *gorm.DB, ownerID string, col UsageColumn) (int, error) {
	var used int
	err := tx.Model(&model.UsageCounter{}).
		Where("owner_id = ?", ownerID).
		Select(string(col)).
		Scan(&used).Error
	if err != nil {
		return 0, fmt.Errorf("read %s failed: %w", col, err)
	}
	return used, nil
}
