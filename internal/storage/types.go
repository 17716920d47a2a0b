package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the audit store. Empty or "none" Driver disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Action names an audited membership change.
type Action string

const (
	ActionGrant       Action = "grant"
	ActionRevoke      Action = "revoke"
	ActionExpire      Action = "expire"
	ActionRoleMissing Action = "role_missing"
)

// AuditEntry records one membership change. Keep it schema-stable.
type AuditEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Action   Action    `json:"action"`
	UserID   string    `json:"user_id"`
	RoleID   string    `json:"role_id,omitempty"`
	ActorID  string    `json:"actor_id,omitempty"`
	ExpireAt time.Time `json:"expire_at"`
	Error    string    `json:"error,omitempty"`
}

// Store is the audit persistence API.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// Recent returns up to limit entries, newest first. An empty userID
	// matches every user.
	Recent(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
	Close() error
}
