package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestTokenService() accounts.TokenService {
	cfg := newTestConfig()
	return accounts.NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		testLogger{},
	)
}

// captureGuard returns a guard whose ErrorHandler records the error instead
// of writing a response, so tests can assert on the sentinel directly.
func captureGuard(svc accounts.TokenService, store *MockUserStore) (*accounts.Middleware, *error) {
	guard := accounts.NewMiddleware(svc, store, newTestConfig()).WithLogger(testLogger{})
	var captured error
	guard.ErrorHandler = func(ctx router.Context, err error) error {
		captured = err
		return err
	}
	return guard, &captured
}

func TestMiddlewareProtect(t *testing.T) {
	svc := newTestTokenService()

	activeUser := func() (*accounts.User, string) {
		uid := uuid.New()
		user := &accounts.User{
			ID:     uid,
			Name:   "Test User",
			Email:  "test@example.com",
			Role:   accounts.RoleUser,
			Status: accounts.AccountStatusActive,
		}
		token, err := svc.Generate(MockIdentity{
			IDValue:    uid.String(),
			EmailValue: user.Email,
			RoleValue:  string(accounts.RoleUser),
		})
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		return user, token
	}

	t.Run("Valid token loads the subject and calls next", func(t *testing.T) {
		store := new(MockUserStore)
		guard, _ := captureGuard(svc, store)

		user, token := activeUser()
		claims, err := svc.Validate(token)
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Context").Return(context.Background())
		ctx.On("SetContext", mock.Anything).Return()
		ctx.On("Locals", "jwt", mock.Anything).Return(nil)
		ctx.On("Locals", "jwt").Return(claims)

		var attached *accounts.User
		ctx.On("Locals", accounts.UserContextKey, mock.Anything).Run(func(args mock.Arguments) {
			attached, _ = args.Get(1).(*accounts.User)
		}).Return(nil)

		store.On("FindByID", mock.Anything, user.ID).Return(user, nil).Once()

		nextCalled := false
		handler := guard.Protect()(func(c router.Context) error {
			nextCalled = true
			return nil
		})

		err = handler(ctx)

		assert.NoError(t, err)
		assert.True(t, nextCalled)
		assert.NotNil(t, attached)
		assert.Equal(t, user.ID, attached.ID)
		assert.Empty(t, attached.PasswordHash, "attached user must be sanitized")

		store.AssertExpectations(t)
	})

	t.Run("Token from cookie", func(t *testing.T) {
		store := new(MockUserStore)
		guard, _ := captureGuard(svc, store)

		user, token := activeUser()
		claims, err := svc.Validate(token)
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("")
		ctx.On("Cookies", "jwt").Return(token)
		ctx.On("Context").Return(context.Background())
		ctx.On("SetContext", mock.Anything).Return()
		ctx.On("Locals", "jwt", mock.Anything).Return(nil)
		ctx.On("Locals", "jwt").Return(claims)
		ctx.On("Locals", accounts.UserContextKey, mock.Anything).Return(nil)

		store.On("FindByID", mock.Anything, user.ID).Return(user, nil).Once()

		nextCalled := false
		handler := guard.Protect()(func(c router.Context) error {
			nextCalled = true
			return nil
		})

		err = handler(ctx)

		assert.NoError(t, err)
		assert.True(t, nextCalled)
	})

	t.Run("Missing token", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("")
		ctx.On("Cookies", "jwt").Return("")

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run without a token")
			return nil
		})

		err := handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrNotLoggedIn, *captured)
		store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("Expired token", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		uid := uuid.NewString()
		expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":  uid,
			"uid":  uid,
			"role": string(accounts.RoleUser),
			"iat":  time.Now().Add(-2 * time.Hour).Unix(),
			"exp":  time.Now().Add(-1 * time.Hour).Unix(),
		})
		token, err := expired.SignedString([]byte(newTestConfig().GetSigningKey()))
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run with an expired token")
			return nil
		})

		err = handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrTokenExpired, *captured)
	})

	t.Run("Malformed token", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer not.a.valid.token")

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run with a malformed token")
			return nil
		})

		err := handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrTokenMalformed, *captured)
	})

	t.Run("Token signed with a different key", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		other := accounts.NewTokenService([]byte("other-signing-key"), 1, "", nil, testLogger{})

		forged, err := other.Generate(MockIdentity{IDValue: uuid.NewString(), RoleValue: "user"})
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer " + forged)

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run with a forged token")
			return nil
		})

		err = handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrTokenMalformed, *captured)
	})

	t.Run("Subject no longer exists", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		user, token := activeUser()
		claims, err := svc.Validate(token)
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Context").Return(context.Background())
		ctx.On("SetContext", mock.Anything).Return()
		ctx.On("Locals", "jwt", mock.Anything).Return(nil)
		ctx.On("Locals", "jwt").Return(claims)

		store.On("FindByID", mock.Anything, user.ID).Return(nil, nil).Once()

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run for a deleted subject")
			return nil
		})

		err = handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrUserNoLongerExists, *captured)
		store.AssertExpectations(t)
	})

	t.Run("Deactivated subject", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		user, token := activeUser()
		user.Status = accounts.AccountStatusDeactivated
		claims, err := svc.Validate(token)
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Context").Return(context.Background())
		ctx.On("SetContext", mock.Anything).Return()
		ctx.On("Locals", "jwt", mock.Anything).Return(nil)
		ctx.On("Locals", "jwt").Return(claims)

		store.On("FindByID", mock.Anything, user.ID).Return(user, nil).Once()

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run for a deactivated subject")
			return nil
		})

		err = handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrAccountDeactivated, *captured)
	})

	t.Run("Token issued before a password change is stale", func(t *testing.T) {
		store := new(MockUserStore)
		guard, captured := captureGuard(svc, store)

		user, token := activeUser()
		changed := time.Now().Add(time.Hour)
		user.PasswordChangedAt = &changed

		claims, err := svc.Validate(token)
		assert.NoError(t, err)

		ctx := new(MockContext)
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Context").Return(context.Background())
		ctx.On("SetContext", mock.Anything).Return()
		ctx.On("Locals", "jwt", mock.Anything).Return(nil)
		ctx.On("Locals", "jwt").Return(claims)

		store.On("FindByID", mock.Anything, user.ID).Return(user, nil).Once()

		handler := guard.Protect()(func(c router.Context) error {
			t.Fatal("next should not run with a stale token")
			return nil
		})

		err = handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrTokenStale, *captured)
	})
}

func TestMiddlewareRestrictTo(t *testing.T) {
	svc := newTestTokenService()

	claimsFor := func(t *testing.T, role string) accounts.AuthClaims {
		token, err := svc.Generate(MockIdentity{IDValue: uuid.NewString(), RoleValue: role})
		assert.NoError(t, err)
		claims, err := svc.Validate(token)
		assert.NoError(t, err)
		return claims
	}

	t.Run("Allowed role passes through", func(t *testing.T) {
		guard, _ := captureGuard(svc, new(MockUserStore))

		ctx := new(MockContext)
		ctx.On("Locals", "jwt").Return(claimsFor(t, string(accounts.RoleAdmin)))

		nextCalled := false
		handler := guard.RestrictTo(accounts.RoleAdmin)(func(c router.Context) error {
			nextCalled = true
			return nil
		})

		err := handler(ctx)

		assert.NoError(t, err)
		assert.True(t, nextCalled)
	})

	t.Run("Role outside the allow list is forbidden", func(t *testing.T) {
		guard, captured := captureGuard(svc, new(MockUserStore))

		ctx := new(MockContext)
		ctx.On("Locals", "jwt").Return(claimsFor(t, string(accounts.RoleUser)))

		nextCalled := false
		handler := guard.RestrictTo(accounts.RoleAdmin)(func(c router.Context) error {
			nextCalled = true
			return nil
		})

		err := handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrForbidden, *captured)
		assert.False(t, nextCalled)
	})

	t.Run("Unknown role in the token denies", func(t *testing.T) {
		guard, captured := captureGuard(svc, new(MockUserStore))

		ctx := new(MockContext)
		ctx.On("Locals", "jwt").Return(claimsFor(t, "superuser"))

		handler := guard.RestrictTo(accounts.RoleAdmin, accounts.RoleUser)(func(c router.Context) error {
			return nil
		})

		err := handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrForbidden, *captured)
	})

	t.Run("No claims means not logged in", func(t *testing.T) {
		guard, captured := captureGuard(svc, new(MockUserStore))

		ctx := new(MockContext)
		ctx.On("Locals", "jwt").Return(nil)

		handler := guard.RestrictTo(accounts.RoleAdmin)(func(c router.Context) error {
			return nil
		})

		err := handler(ctx)

		assert.Error(t, err)
		assert.Equal(t, accounts.ErrNotLoggedIn, *captured)
	})
}
