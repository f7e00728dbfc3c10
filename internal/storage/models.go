package storage

import (
	"time"

	"github.com/google/uuid"
)

// PracticeSession is the history row written when a match commits.
type PracticeSession struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	MatchID   string     `json:"match_id" db:"match_id"`
	LearnerID string     `json:"learner_id" db:"learner_id"`
	FluentID  string     `json:"fluent_id" db:"fluent_id"`
	Language  string     `json:"language" db:"language"`
	Status    string     `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Practice session statuses
const (
	SessionMatched   = "matched"
	SessionActive    = "active"
	SessionEnded     = "ended"
	SessionCancelled = "cancelled"
)
