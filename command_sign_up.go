package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type SignUpMessage struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Role            string `json:"role"`
}

func (e SignUpMessage) Type() string { return "auth.sign_up" }

// SignUpHandler creates accounts. The handler does not decide who may
// request an elevated role: routes that accept a role field must sit behind
// Protect and RestrictTo, the handler only rejects roles outside the enum.
type SignUpHandler struct {
	repo     RepositoryManager
	hasher   PasswordAuthenticator
	activity ActivitySink
	logger   Logger

	// OnResponse receives the created record, hash stripped.
	OnResponse func(*User)
}

// NewSignUpHandler creates a handler with sane defaults.
func NewSignUpHandler(repo RepositoryManager) *SignUpHandler {
	return &SignUpHandler{
		repo:     repo,
		hasher:   NewPasswordHasher(passwordHashCost()),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithPasswordHasher overrides the hasher, mostly to drop the cost in tests.
func (h *SignUpHandler) WithPasswordHasher(hasher PasswordAuthenticator) *SignUpHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

// WithActivitySink sets the sink used to emit sign up events.
func (h *SignUpHandler) WithActivitySink(sink ActivitySink) *SignUpHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *SignUpHandler) WithLogger(logger Logger) *SignUpHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SignUpHandler) Execute(ctx context.Context, event SignUpMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during sign up",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignUpHandler) execute(ctx context.Context, event SignUpMessage) error {
	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	role, err := resolveSignUpRole(event.Role)
	if err != nil {
		return err
	}

	if event.Password != event.PasswordConfirm {
		return ErrPasswordConfirmMismatch
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := h.hasher.Hash(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.PasswordHash = hash
		user.Name = event.Name
		user.Email = event.Email
		user.Role = role

		if user, err = h.repo.Users().RegisterTx(ctx, tx, user); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "sign up transaction failed")
	}

	h.recordActivity(ctx, user)

	if h.OnResponse != nil {
		h.OnResponse(user.Sanitized())
	}

	return nil
}

func (h *SignUpHandler) recordActivity(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventSignUp,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID: user.ID.String(),
		Metadata: map[string]any{
			"email": user.Email,
			"role":  string(user.Role),
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during sign up: %v", err)
	}
}

// resolveSignUpRole maps the optional role field to a member of the role
// enum. Empty means the default member role; anything else must parse.
func resolveSignUpRole(raw string) (UserRole, error) {
	if raw == "" {
		return RoleUser, nil
	}

	role, ok := ParseRole(raw)
	if !ok {
		return "", goerrors.New("role is not a recognized member of the role set", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("INVALID_ROLE").
			WithMetadata(map[string]any{"role": raw})
	}

	return role, nil
}
