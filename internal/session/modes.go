// Package session tracks the per-user input mode that decides how the next
// plain text message from that user is interpreted.
package session

import (
	"context"
	"fmt"
)

const (
	ModeIdle               = "idle"
	ModeAwaitingName       = "awaiting_name"
	ModeAwaitingBio        = "awaiting_bio"
	ModeAwaitingConfession = "awaiting_confession"
)

// ModeStore is the storage contract for input modes. Modes are ephemeral;
// losing them on restart is acceptable.
type ModeStore interface {
	GetMode(ctx context.Context, userID string) (string, error)
	SetMode(ctx context.Context, userID, mode string) error
	ClearMode(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
	Close() error
}

func errUnknownMode(mode string) error {
	return fmt.Errorf("unknown mode %q", mode)
}

func ValidMode(mode string) bool {
	switch mode {
	case ModeIdle, ModeAwaitingName, ModeAwaitingBio, ModeAwaitingConfession:
		return true
	}
	return false
}
