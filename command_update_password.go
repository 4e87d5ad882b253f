package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type UpdatePasswordMessage struct {
	UserID          uuid.UUID `json:"-"`
	CurrentPassword string    `json:"password_current"`
	Password        string    `json:"password"`
	PasswordConfirm string    `json:"password_confirm"`
}

func (e UpdatePasswordMessage) Type() string { return "auth.update_password" }

// UpdatePasswordHandler rotates a password for an already authenticated
// user. The digest swap and the password_changed_at bump land in a single
// statement, which is what invalidates every token issued before the
// change.
type UpdatePasswordHandler struct {
	repo     RepositoryManager
	hasher   PasswordAuthenticator
	activity ActivitySink
	logger   Logger

	// OnResponse receives the updated record, hash stripped. Callers use it
	// to issue a fresh token so the session survives its own rotation.
	OnResponse func(*User)
}

// NewUpdatePasswordHandler creates a handler with sane defaults.
func NewUpdatePasswordHandler(repo RepositoryManager) *UpdatePasswordHandler {
	return &UpdatePasswordHandler{
		repo:     repo,
		hasher:   NewPasswordHasher(passwordHashCost()),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *UpdatePasswordHandler) WithPasswordHasher(hasher PasswordAuthenticator) *UpdatePasswordHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

// WithActivitySink sets the sink used to emit password change events.
func (h *UpdatePasswordHandler) WithActivitySink(sink ActivitySink) *UpdatePasswordHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *UpdatePasswordHandler) WithLogger(logger Logger) *UpdatePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *UpdatePasswordHandler) Execute(ctx context.Context, event UpdatePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdatePasswordHandler) execute(ctx context.Context, event UpdatePasswordMessage) error {
	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if event.Password != event.PasswordConfirm {
		return ErrPasswordConfirmMismatch
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.repo.Users().FindByID(ctx, event.UserID)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for password update")
		}

		if current == nil {
			return ErrUserNoLongerExists
		}

		if err := statusAuthError(current.Status); err != nil {
			return err
		}

		if err := h.hasher.Compare(event.CurrentPassword, current.PasswordHash); err != nil {
			h.recordActivity(ctx, current, ActivityEventPasswordChangeFailure, map[string]any{
				"reason": "current password mismatch",
			})
			return goerrors.New("current password is incorrect", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidCreds)
		}

		hash, err := h.hasher.Hash(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		if user, err = h.repo.Users().UpdatePasswordTx(ctx, tx, event.UserID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		if user == nil {
			return ErrUserNoLongerExists
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "password update transaction failed")
	}

	h.recordActivity(ctx, user, ActivityEventPasswordChangeSuccess, nil)

	if h.OnResponse != nil {
		h.OnResponse(user.Sanitized())
	}

	return nil
}

func (h *UpdatePasswordHandler) recordActivity(ctx context.Context, user *User, eventType ActivityEventType, metadata map[string]any) {
	if user == nil {
		return
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	event := ActivityEvent{
		EventType: eventType,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password update: %v", err)
	}
}
