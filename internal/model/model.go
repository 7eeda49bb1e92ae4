package model

// All lists every table for migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Document{},
		&ChatTurn{},
		&UsageCounter{},
		&Mistake{},
		&QuizResult{},
	}
}
