package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorage marks failures reading or writing the persisted state.
	ErrStorage = errors.New("pass store unavailable")
	// ErrDuplicateSubmission is returned when an identity already has a completed submission.
	ErrDuplicateSubmission = errors.New("submission already recorded for identity")
	// ErrIdentityRequired rejects records without an identity key.
	ErrIdentityRequired = errors.New("identity required")
)

// Submission is the durable record of a completed flow.
type Submission struct {
	Identity    string    `json:"identity" gorm:"uniqueIndex;size:64"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	PassID      uint64    `json:"pass_id" gorm:"index"`
	TwitterLink string    `json:"twitter_link"`
	Wallet      string    `json:"wallet"`
	CompletedAt time.Time `json:"completed_at" gorm:"index"`
}

// Pending is the in-memory state of an unfinished flow.
type Pending struct {
	Identity    string
	PassID      uint64
	Role        string
	DisplayName string
	ImagePath   string
	TwitterLink string
	CreatedAt   time.Time
}

// Store persists the pass counter and completed submissions, and keeps the
// transient pending table for in-flight flows.
type Store interface {
	// Counter returns the last issued pass id (0 on a fresh store).
	Counter(ctx context.Context) (uint64, error)
	// IncrementCounter atomically bumps the counter, persists it and returns the new value.
	IncrementCounter(ctx context.Context) (uint64, error)
	Submission(ctx context.Context, identity string) (Submission, bool, error)
	// AppendSubmission records a completed flow; ErrDuplicateSubmission when the identity exists.
	AppendSubmission(ctx context.Context, sub Submission) error
	// Submissions returns every completed submission in completion order.
	Submissions(ctx context.Context) ([]Submission, error)
	Pending(ctx context.Context, identity string) (Pending, bool, error)
	SetPending(ctx context.Context, pending Pending) error
	ClearPending(ctx context.Context, identity string) error
	Close() error
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrDuplicateSubmission) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
