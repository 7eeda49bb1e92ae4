package model

import "time"

// UsageCounter holds one owner's quota state. Daily columns reset when
// LastResetDate (YYYY-MM-DD in the reference timezone) is not today;
// TotalFilesUploaded never resets.
type UsageCounter struct {
	OwnerID             string    `gorm:"primaryKey;size:64" json:"owner_id"`
	DailyQuizQuestions  int       `gorm:"not null;default:0" json:"daily_quiz_questions"`
	DailyTutorQuestions int       `gorm:"not null;default:0" json:"daily_tutor_questions"`
	DailyCoachMsgs      int       `gorm:"not null;default:0" json:"daily_coach_msgs"`
	TotalFilesUploaded  int       `gorm:"not null;default:0" json:"total_files_uploaded"`
	LastResetDate       string    `gorm:"size:10;not null" json:"last_reset_date"`
	UpdatedAt           time.Time `json:"updated_at"`
}
