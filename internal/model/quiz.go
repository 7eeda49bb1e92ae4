package model

import "time"

type Mistake struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OwnerID       string    `gorm:"size:64;not null;index:idx_mistake_owner_time,priority:1" json:"owner_id"`
	DocumentID    string    `gorm:"size:255;not null;index" json:"document_id"`
	Topic         string    `gorm:"size:255;not null" json:"topic"`
	Question      string    `gorm:"type:text;not null" json:"question"`
	WrongAnswer   string    `gorm:"type:text" json:"wrong_answer"`
	CorrectAnswer string    `gorm:"type:text;not null" json:"correct_answer"`
	Explanation   string    `gorm:"type:text" json:"explanation"`
	CreatedAt     time.Time `gorm:"index:idx_mistake_owner_time,priority:2" json:"created_at"`
}

type QuizResult struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OwnerID        string    `gorm:"size:64;not null;index" json:"owner_id"`
	DocumentID     string    `gorm:"size:255;not null;index" json:"document_id"`
	Topic          string    `gorm:"size:255" json:"topic"`
	Score          int       `gorm:"not null" json:"score"`
	TotalQuestions int       `gorm:"not null" json:"total_questions"`
	CreatedAt      time.Time `json:"created_at"`
}
