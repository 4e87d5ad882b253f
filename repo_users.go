package accounts

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UpdateUserPasswordSQL bumps password_changed_at in the same statement as
// the digest swap so the staleness gate and the new digest are always in
// step. The ORM update path would let them drift across two writes.
var UpdateUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"password_changed_at" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

// Users is the repository contract the auth core consumes. Absent records
// are (nil, nil), never an error, so callers can tell "no such user" apart
// from infrastructure failure.
type Users interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string, includeSecret bool) (*User, error)
	List(ctx context.Context) ([]*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) (*User, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) (*User, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus) (*User, error)
	Deactivate(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error)

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	TrackSucccessfulLogin(ctx context.Context, user *User) error
	TrackSucccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error
}

type users struct {
	repository.Repository[*User]
	db                  *bun.DB
	timeout             time.Duration
	clock               func() time.Time
	stateMachine        AccountStateMachine
	stateMachineOptions []StateMachineOption
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

// WithUsersTimeout bounds every repository call; exceeding it surfaces
// ErrRepositoryUnavailable instead of hanging or silently retrying.
func WithUsersTimeout(d time.Duration) UsersOption {
	return func(u *users) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// WithUsersClock injects a custom clock (useful for tests).
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.clock = clock
		}
	}
}

func WithUsersStateMachineOptions(options ...StateMachineOption) UsersOption {
	return func(u *users) {
		if len(options) == 0 {
			return
		}
		u.stateMachineOptions = append(u.stateMachineOptions, options...)
		u.stateMachine = nil
	}
}

func WithUsersStateMachine(sm AccountStateMachine) UsersOption {
	return func(u *users) {
		u.stateMachine = sm
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		timeout:    10 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, a.mapErr(err)
	}

	record.EnsureStatus()
	return record, nil
}

// FindByEmail states exactly what it fetches: the password digest is only
// selected when includeSecret is set, there is no query hook that sneaks it
// in for other callers.
func (a *users) FindByEmail(ctx context.Context, email string, includeSecret bool) (*User, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	record := &User{}
	q := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1)

	if !includeSecret {
		q = q.ExcludeColumn("password_hash")
	}

	if err := q.Scan(ctx); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, a.mapErr(err)
	}

	record.EnsureStatus()
	return record, nil
}

func (a *users) List(ctx context.Context) ([]*User, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	var records []*User
	err := a.db.NewSelect().
		Model(&records).
		ExcludeColumn("password_hash").
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, a.mapErr(err)
	}

	for _, r := range records {
		r.EnsureStatus()
	}
	return records, nil
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

// RegisterTx persists a new account. The unique email index enforces
// uniqueness at the storage layer, so two concurrent sign-ups with the same
// email produce exactly one success and one ErrEmailTaken.
func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	a.prepareDefaults(user)

	record, err := a.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken.WithMetadata(map[string]any{
				"email": user.Email,
			})
		}
		return nil, a.mapErr(err)
	}

	return record, nil
}

func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) (*User, error) {
	return a.UpdatePasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) (*User, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	now := a.clock()
	res, err := a.Repository.RawTx(ctx, tx, UpdateUserPasswordSQL, passwordHash, now, now, id.String())
	if err != nil {
		return nil, a.mapErr(err)
	}

	if len(res) == 0 {
		return nil, nil
	}

	record := res[0]
	record.EnsureStatus()
	return record, nil
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status)
}

func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus) (*User, error) {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	record := &User{
		ID:     id,
		Status: status,
	}

	updated, err := a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, a.mapErr(err)
	}

	return updated, nil
}

// Deactivate routes the status change through the state machine so the
// transition graph, hooks, and audit events all apply.
func (a *users) Deactivate(ctx context.Context, actor ActorRef, user *User, opts ...TransitionOption) (*User, error) {
	return a.lifecycleMachine().Transition(ctx, actor, user, AccountStatusDeactivated, opts...)
}

func (a *users) TrackSucccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSucccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSucccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	// NOTE: Updating using the ORM fails due to a bug, it wont reset
	// login_attempt_at, login_attempts fields.
	loggedInAt := a.clock()
	_, err := tx.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, loggedInAt, user.ID).Exec(ctx)

	return a.mapErr(err)
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	ctx, cancel := a.bound(ctx)
	defer cancel()

	record := &User{}
	record.ID = user.ID
	record.LoginAttempts = user.LoginAttempts + 1
	now := a.clock()
	record.LoginAttemptAt = &now

	_, err := a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(user.ID.String()))

	return a.mapErr(err)
}

func (a *users) prepareDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func (a *users) lifecycleMachine() AccountStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewAccountStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}

// bound attaches the repository timeout unless the caller already set a
// deadline. No locks are held across these calls.
func (a *users) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *users) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return goerrors.Wrap(err, ErrRepositoryUnavailable.Category, ErrRepositoryUnavailable.Message).
			WithTextCode(ErrRepositoryUnavailable.TextCode)
	}
	return err
}

// NormalizeEmail lowercases and trims so the unique index behaves
// case-insensitively across dialects.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
