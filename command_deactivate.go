package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type DeactivateAccountMessage struct {
	UserID uuid.UUID `json:"-"`
	Reason string    `json:"reason"`
}

func (e DeactivateAccountMessage) Type() string { return "auth.deactivate_account" }

// DeactivateAccountHandler retires an account. The change goes through the
// lifecycle state machine, so the terminal rule and the audit trail apply
// the same way no matter which surface initiated it.
type DeactivateAccountHandler struct {
	repo   RepositoryManager
	logger Logger

	// OnResponse receives the record after the transition.
	OnResponse func(*User)
}

// NewDeactivateAccountHandler creates a handler with sane defaults.
func NewDeactivateAccountHandler(repo RepositoryManager) *DeactivateAccountHandler {
	return &DeactivateAccountHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *DeactivateAccountHandler) WithLogger(logger Logger) *DeactivateAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *DeactivateAccountHandler) Execute(ctx context.Context, event DeactivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account deactivation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeactivateAccountHandler) execute(ctx context.Context, event DeactivateAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().FindByID(ctx, event.UserID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve user for deactivation")
	}

	if user == nil {
		return ErrUserNoLongerExists
	}

	actor := ActorRef{ID: user.ID.String(), Type: "user"}

	opts := []TransitionOption{}
	if event.Reason != "" {
		opts = append(opts, WithTransitionReason(event.Reason))
	}

	updated, err := h.repo.Users().Deactivate(ctx, actor, user, opts...)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account deactivation failed")
	}

	if h.OnResponse != nil {
		h.OnResponse(updated.Sanitized())
	}

	return nil
}
