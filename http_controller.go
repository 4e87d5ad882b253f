package accounts

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// HTTPAuthenticator is the controller's view of the cookie transport.
type HTTPAuthenticator interface {
	Login(ctx router.Context, payload LoginRequest) (string, error)
	Logout(ctx router.Context)
	SetTokenCookie(ctx router.Context, token string)
	GetCookieDuration() time.Duration
}

// RegisterAuthRoutes mounts the account surface. The admin sign up and the
// users index sit behind Protect plus RestrictTo(RoleAdmin); a plain user
// token reaches them and gets a 403, no token gets a 401.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	protect := controller.Guard.Protect()
	adminOnly := controller.Guard.RestrictTo(RoleAdmin)

	app.
		Post(controller.Routes.SignUp, controller.SignUpPost).
		SetName("sign-up.post")

	app.
		Post(controller.Routes.SignUpAdmin, controller.SignUpAdminPost, protect, adminOnly).
		SetName("sign-up-admin.post")

	app.
		Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")

	app.
		Patch(controller.Routes.Password, controller.UpdatePasswordPatch, protect).
		SetName("password.patch")

	app.
		Patch(controller.Routes.Deactivate, controller.DeactivatePatch, protect).
		SetName("deactivate.patch")

	app.
		Get(controller.Routes.Users, controller.UsersIndex, protect, adminOnly).
		SetName("users.index")
}

type AuthControllerRoutes struct {
	SignUp      string
	SignUpAdmin string
	Login       string
	Logout      string
	Password    string
	Deactivate  string
	Users       string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Auther       HTTPAuthenticator
	Guard        *Middleware
	Tokens       TokenService
	ActivitySink ActivitySink
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: WriteError,
		ActivitySink: noopActivitySink{},
		Routes: &AuthControllerRoutes{
			SignUp:      "/sign-up",
			SignUpAdmin: "/sign-up/admin",
			Login:       "/login",
			Logout:      "/logout",
			Password:    "/password",
			Deactivate:  "/me/deactivate",
			Users:       "/users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.Guard == nil {
		panic("Missing route guard in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in auth controller...")
	}

	return c
}

// WithControllerRepo sets the repository manager.
func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

// WithControllerAuther sets the cookie transport.
func WithControllerAuther(auther HTTPAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

// WithControllerGuard sets the middleware guard.
func WithControllerGuard(guard *Middleware) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Guard = guard
		return c
	}
}

// WithControllerTokens sets the token service used for issuance.
func WithControllerTokens(tokens TokenService) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Tokens = tokens
		return c
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerActivitySink sets the audit sink shared by the handlers.
func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.ActivitySink = normalizeActivitySink(sink)
		return c
	}
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// GetEmail returns the email
func (r LoginRequest) GetEmail() string {
	return r.Email
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: ", "error", err)
		return a.ErrorHandler(ctx, badRequestError(err, "could not parse login payload"))
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("login validate payload: ", "error", err)
		return a.validationResponse(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	token, err := a.Auther.Login(ctx, *payload)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.JSON(fiber.StatusOK, map[string]any{
		"success": true,
	})
}

// SignUpPayload is the account creation payload
type SignUpPayload struct {
	Name            string `form:"name" json:"name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	PasswordConfirm string `form:"password_confirm" json:"password_confirm"`
	Role            string `form:"role" json:"role"`
}

// Validate will validate the payload
func (r SignUpPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.PasswordConfirm,
			validation.Required,
			validation.Length(8, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) SignUpPost(ctx router.Context) error {
	return a.signUp(ctx, false)
}

// SignUpAdminPost accepts the role field. The route is registered behind
// Protect and RestrictTo(RoleAdmin), which is the only thing that makes
// elevated sign up legitimate.
func (a *AuthController) SignUpAdminPost(ctx router.Context) error {
	return a.signUp(ctx, true)
}

func (a *AuthController) signUp(ctx router.Context, allowRole bool) error {
	payload := new(SignUpPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("sign up parse payload: ", "error", err)
		return a.ErrorHandler(ctx, badRequestError(err, "could not parse sign up payload"))
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("sign up validate payload: ", "error", err)
		return a.validationResponse(ctx, err)
	}

	role := ""
	if allowRole {
		role = payload.Role
	}

	var created *User
	msg := SignUpMessage{
		Name:            payload.Name,
		Email:           payload.Email,
		Password:        payload.Password,
		PasswordConfirm: payload.PasswordConfirm,
		Role:            role,
	}

	signUp := NewSignUpHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.ActivitySink)
	signUp.OnResponse = func(u *User) { created = u }

	if err := signUp.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("sign up execute: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	token, err := a.Tokens.Generate(identityFromUser(created))
	if err != nil {
		a.Logger.Error("sign up token issuance: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	a.Auther.SetTokenCookie(ctx, token)

	return ctx.JSON(fiber.StatusCreated, map[string]any{
		"success": true,
		"token":   token,
		"data": map[string]any{
			"user": created,
		},
	})
}

// UpdatePasswordPayload rotates the caller's password
type UpdatePasswordPayload struct {
	PasswordCurrent string `form:"password_current" json:"password_current"`
	Password        string `form:"password" json:"password"`
	PasswordConfirm string `form:"password_confirm" json:"password_confirm"`
}

// Validate will validate the payload
func (r UpdatePasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PasswordCurrent, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(
			&r.PasswordConfirm,
			validation.Required,
			validation.Length(8, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) UpdatePasswordPatch(ctx router.Context) error {
	payload := new(UpdatePasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("update password parse payload: ", "error", err)
		return a.ErrorHandler(ctx, badRequestError(err, "could not parse password payload"))
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("update password validate payload: ", "error", err)
		return a.validationResponse(ctx, err)
	}

	current, ok := UserFromRouterContext(ctx, UserContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	var updated *User
	msg := UpdatePasswordMessage{
		UserID:          current.ID,
		CurrentPassword: payload.PasswordCurrent,
		Password:        payload.Password,
		PasswordConfirm: payload.PasswordConfirm,
	}

	updatePassword := NewUpdatePasswordHandler(a.Repo).
		WithLogger(a.Logger).
		WithActivitySink(a.ActivitySink)
	updatePassword.OnResponse = func(u *User) { updated = u }

	if err := updatePassword.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("update password execute: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	// the old token is now stale, hand the session a fresh one
	token, err := a.Tokens.Generate(identityFromUser(updated))
	if err != nil {
		a.Logger.Error("update password token issuance: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	a.Auther.SetTokenCookie(ctx, token)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

func (a *AuthController) DeactivatePatch(ctx router.Context) error {
	current, ok := UserFromRouterContext(ctx, UserContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrNotLoggedIn)
	}

	msg := DeactivateAccountMessage{UserID: current.ID}

	deactivate := NewDeactivateAccountHandler(a.Repo).WithLogger(a.Logger)

	if err := deactivate.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("deactivate execute: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	a.Auther.Logout(ctx)

	return ctx.Status(fiber.StatusNoContent).SendString("")
}

func (a *AuthController) UsersIndex(ctx router.Context) error {
	records, err := a.Repo.Users().List(ctx.Context())
	if err != nil {
		a.Logger.Error("users index: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	sanitized := make([]*User, 0, len(records))
	for _, r := range records {
		sanitized = append(sanitized, r.Sanitized())
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"success": true,
		"results": len(sanitized),
		"data": map[string]any{
			"users": sanitized,
		},
	})
}

func (a *AuthController) validationResponse(ctx router.Context, err error) error {
	return ctx.JSON(fiber.StatusBadRequest, map[string]any{
		"success": false,
		"error": map[string]any{
			"message":    "payload validation failed",
			"text_code":  "VALIDATION_FAILED",
			"validation": FormatValidationErrorToMap(err),
		},
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field to message map suitable for a JSON body.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	if err != nil {
		out["payload"] = err.Error()
	}

	return out
}

func badRequestError(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, msg).
		WithCode(goerrors.CodeBadRequest)
}
