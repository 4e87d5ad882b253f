package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	// AccountStatusActive is the initial status assigned on sign-up.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusDeactivated is a terminal status; there is no
	// reactivation transition.
	AccountStatusDeactivated AccountStatus = "deactivated"
)

// IsValid reports whether the status is a member of the closed enum.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusActive, AccountStatusDeactivated:
		return true
	default:
		return false
	}
}

// User is the user model
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role              UserRole      `bun:"user_role,notnull" json:"user_role,omitempty"`
	Name              string        `bun:"name,notnull" json:"name,omitempty"`
	Email             string        `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash      string        `bun:"password_hash" json:"-"`
	PasswordChangedAt *time.Time    `bun:"password_changed_at,nullzero" json:"-"`
	Status            AccountStatus `bun:"status,notnull,default:'active'" json:"status,omitempty"`
	LoginAttempts     int           `bun:"login_attempts" json:"-"`
	LoginAttemptAt    *time.Time    `bun:"login_attempt_at" json:"-"`
	LoggedInAt        *time.Time    `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt         *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt         *time.Time    `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus backfills the zero value so records created before the status
// column existed behave as active.
func (u *User) EnsureStatus() {
	if u == nil {
		return
	}
	if u.Status == "" {
		u.Status = AccountStatusActive
	}
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	if u == nil {
		return false
	}
	u.EnsureStatus()
	return u.Status == AccountStatusActive
}

// Sanitized returns a copy safe to serialize in API responses: the password
// digest and throttling counters never leave the process.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	c.LoginAttempts = 0
	c.LoginAttemptAt = nil
	return &c
}
