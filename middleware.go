package accounts

import (
	"context"

	"github.com/goliatone/go-accounts/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// ValidationListener aliases the jwtware listener so consumers can use accounts helpers directly.
type ValidationListener = jwtware.ValidationListener

// UserContextKey is the Locals key Protect stores the loaded user under.
var UserContextKey = "current_user"

// Middleware guards routes. Protect runs the full gate sequence in order:
// token extraction, signature and expiry validation, subject lookup, account
// status, then issued-at versus the last password change. Each gate only
// runs once every earlier gate has passed, so a deleted user never gets a
// staleness answer and a stale token never reaches a handler.
type Middleware struct {
	validator    TokenValidator
	store        UserStore
	cfg          Config
	logger       Logger
	ErrorHandler func(router.Context, error) error
}

func NewMiddleware(validator TokenValidator, store UserStore, cfg Config) *Middleware {
	m := &Middleware{
		validator: validator,
		store:     store,
		cfg:       cfg,
		logger:    defLogger{},
	}
	m.ErrorHandler = m.defaultErrorHandler
	return m
}

func (m *Middleware) WithLogger(logger Logger) *Middleware {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Protect returns the authentication gate. Handlers behind it can rely on
// UserFromRouterContext and GetRouterClaims being populated.
func (m *Middleware) Protect() router.MiddlewareFunc {
	jwtMiddleware := jwtware.New(jwtware.Config{
		ErrorHandler:    m.tokenErrorHandler,
		ContextKey:      m.cfg.GetContextKey(),
		TokenLookup:     m.cfg.GetTokenLookup(),
		AuthScheme:      m.cfg.GetAuthScheme(),
		TokenValidator:  tokenValidatorAdapter{m.validator},
		ContextEnricher: ContextEnricherAdapter,
	})

	return func(next router.HandlerFunc) router.HandlerFunc {
		return jwtMiddleware(m.loadSubject(next))
	}
}

// RestrictTo returns the authorization gate. It must run after Protect. The
// allow list is checked by membership against the closed role set, so an
// unknown role in a token denies rather than falling through.
func (m *Middleware) RestrictTo(roles ...UserRole) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, ok := GetRouterClaims(ctx, m.cfg.GetContextKey())
			if !ok {
				return m.ErrorHandler(ctx, ErrNotLoggedIn)
			}

			role, valid := ParseRole(claims.Role())
			if !valid {
				return m.ErrorHandler(ctx, ErrForbidden)
			}

			for _, allowed := range roles {
				if role == allowed {
					return next(ctx)
				}
			}

			return m.ErrorHandler(ctx, ErrForbidden)
		}
	}
}

// loadSubject resolves the token's subject against the store and runs the
// repository-side gates that pure token validation cannot answer.
func (m *Middleware) loadSubject(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		claims, ok := GetRouterClaims(ctx, m.cfg.GetContextKey())
		if !ok {
			return m.ErrorHandler(ctx, ErrNotLoggedIn)
		}

		user, err := m.fetchUser(ctx.Context(), claims.UserID())
		if err != nil {
			return m.ErrorHandler(ctx, err)
		}

		if user.PasswordChangedAt != nil && claims.IssuedAt().Before(*user.PasswordChangedAt) {
			return m.ErrorHandler(ctx, ErrTokenStale)
		}

		sanitized := user.Sanitized()
		ctx.Locals(UserContextKey, sanitized)
		ctx.SetContext(WithContext(ctx.Context(), sanitized))

		return next(ctx)
	}
}

func (m *Middleware) fetchUser(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := m.store.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, ErrUserNoLongerExists
	}

	if err := statusAuthError(user.Status); err != nil {
		return nil, err
	}

	return user, nil
}

// tokenErrorHandler normalizes extraction and validation failures. A
// missing token reads differently from a bad one.
func (m *Middleware) tokenErrorHandler(ctx router.Context, err error) error {
	if err == nil {
		return nil
	}

	if err.Error() == jwtware.ErrJWTMissingOrMalformed.Error() {
		return m.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	if IsTokenExpiredError(err) {
		return m.ErrorHandler(ctx, ErrTokenExpired)
	}

	if IsMalformedError(err) {
		return m.ErrorHandler(ctx, ErrTokenMalformed)
	}

	return m.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryAuth, "invalid authentication token").
		WithCode(errors.CodeUnauthorized))
}

func (m *Middleware) defaultErrorHandler(ctx router.Context, err error) error {
	return WriteError(ctx, err)
}

// ContextEnricherAdapter adapts jwtware.AuthClaims to accounts.AuthClaims and
// stores claims in the standard context for downstream usage.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return c
	}

	return WithClaimsContext(c, authClaims)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

// tokenValidatorAdapter bridges the accounts validator to the jwtware
// contract without an import cycle.
type tokenValidatorAdapter struct {
	inner TokenValidator
}

func (a tokenValidatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := a.inner.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
