package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/auth"
	"github.com/apikit-go/apikit/internal/codes"
	"github.com/apikit-go/apikit/internal/crud"
	"github.com/apikit-go/apikit/internal/mailer"
	"github.com/apikit-go/apikit/internal/middleware"
	"github.com/apikit-go/apikit/internal/model"
	"github.com/apikit-go/apikit/internal/repository"
	"github.com/apikit-go/apikit/internal/token"
)

// AuthHandler serves registration, activation and the session endpoints.
type AuthHandler struct {
	users    *repository.Users
	userCRUD *crud.Service
	provider *auth.Provider
	consumer *auth.Consumer
	mail     *mailer.Publisher
	log      *zap.Logger
}

func NewAuthHandler(users *repository.Users, userCRUD *crud.Service, provider *auth.Provider, consumer *auth.Consumer, mail *mailer.Publisher, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, userCRUD: userCRUD, provider: provider, consumer: consumer, mail: mail, log: log}
}

type registerRequest struct {
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	Password   string  `json:"password"`
	RePassword string  `json:"rePassword"`
}

// Register creates an inactive account, issues an activation code and
// queues the activation email. All field problems are collected into one
// response.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return codes.FieldsError.Err()
	}

	errs := &crud.MultiFieldError{}
	if !hasValue(req.Username) && !hasValue(req.Email) && !hasValue(req.Phone) {
		errs.Add("handle", kindRequired)
	}
	checkPasswordStrength(req.Password, errs)
	if req.Password != req.RePassword {
		errs.Add("rePassword", kindMismatch)
	}
	if !errs.Empty() {
		return errs
	}

	ctx := c.Request().Context()
	in := crud.Input{"password": req.Password}
	if hasValue(req.Username) {
		in["username"] = *req.Username
	}
	if hasValue(req.Email) {
		in["email"] = *req.Email
	}
	if hasValue(req.Phone) {
		in["phone"] = *req.Phone
	}

	row, err := h.userCRUD.Create(ctx, in,
		crud.WithDefaults(map[string]any{"is_active": false}),
		crud.WithRouteKey("auth.register"))
	if err != nil {
		return err
	}

	id, err := rowID(row)
	if err != nil {
		h.log.Error("register: bad row id", zap.Error(err))
		return codes.ServerError.Err()
	}
	u, err := h.users.ByID(ctx, id)
	if err != nil {
		return err
	}
	if err := h.sendActivation(ctx, u); err != nil {
		h.log.Warn("register: activation email not queued", zap.String("uuid", u.UUID), zap.Error(err))
	}

	payload := codes.ActivationEmail.Resp()
	payload["uuid"] = u.UUID
	return c.JSON(codes.ActivationEmail.Status, payload)
}

type activateRequest struct {
	UUID string `json:"uuid"`
	Code string `json:"code"`
}

// Activate flips the account active when the submitted code matches. An
// expired code is replaced and re-sent instead of being rejected
// outright.
func (h *AuthHandler) Activate(c echo.Context) error {
	var req activateRequest
	if err := c.Bind(&req); err != nil {
		return codes.FieldsError.Err()
	}
	ctx := c.Request().Context()

	u, err := h.users.GetUserBy(ctx, "uuid", req.UUID)
	if errors.Is(err, repository.ErrNotFound) {
		return codes.NotFound.Err()
	}
	if err != nil {
		return err
	}
	if u.IsActive {
		return codes.AlreadyActive.Err()
	}

	status, err := h.users.CheckTempCode(ctx, u.ID, req.Code)
	if err != nil {
		return err
	}
	switch status {
	case repository.TempCodeOK:
		if err := h.users.Activate(ctx, u.ID); err != nil {
			return err
		}
		return c.JSON(codes.OK.Status, codes.OK.Resp())
	case repository.TempCodeExpired:
		if err := h.sendActivation(ctx, u); err != nil {
			h.log.Warn("activate: resend not queued", zap.String("uuid", u.UUID), zap.Error(err))
		}
		return codes.ActivationEmailResend.Err()
	default:
		return codes.ActivationCodeIncorrect.Err()
	}
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login authenticates a handle/password pair, sets the auth cookie and
// returns a fresh token pair alongside the user. Wrong handle and wrong
// password are indistinguishable to the caller.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return codes.FieldsError.Err()
	}
	ctx := c.Request().Context()

	u, err := h.users.ByHandle(ctx, req.Login)
	if errors.Is(err, repository.ErrNotFound) {
		return codes.NotAuthenticated.Err()
	}
	if err != nil {
		return err
	}
	if !repository.VerifyPassword(u, req.Password) {
		return codes.NotAuthenticated.Err()
	}
	if !u.CanLogin() {
		return codes.NotAuthenticated.Err()
	}
	return h.issueSession(c, u)
}

// Logout clears the auth cookie.
func (h *AuthHandler) Logout(c echo.Context) error {
	h.provider.DeleteAuthCookie(c)
	return c.JSON(codes.OK.Status, codes.OK.Resp())
}

// Check returns the authenticated user and re-issues the auth cookie so
// active sessions keep sliding forward. Route is guarded, so the user is
// always present here.
func (h *AuthHandler) Check(c echo.Context) error {
	u := middleware.CurrentUser(c)
	tu := token.User{ID: u.ID, UUID: u.UUID, IsSuperuser: u.IsSuperuser}
	if err := h.provider.SetAuthCookie(c, tu); err != nil {
		h.log.Error("refresh auth cookie", zap.Uint64("user_id", u.ID), zap.Error(err))
		return codes.ServerError.Err()
	}
	return c.JSON(http.StatusOK, u)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a valid refresh token for a fresh pair. Tokens issued
// before the last password change are refused.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return codes.FieldsError.Err()
	}
	claims, err := h.consumer.TokenPayload(req.RefreshToken)
	if err != nil {
		return err
	}
	if claims.Kind != token.Refresh {
		return codes.NotAuthenticated.Err()
	}
	ctx := c.Request().Context()

	u, err := h.users.ByID(ctx, claims.User.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return codes.NotAuthenticated.Err()
	}
	if err != nil {
		return err
	}
	if claims.IssuedAt == nil || u.PasswordChangeAt.After(claims.IssuedAt.Time) {
		return codes.NotAuthenticated.Err()
	}
	if !u.CanLogin() {
		return codes.NotAuthenticated.Err()
	}
	return h.issueSession(c, u)
}

func (h *AuthHandler) issueSession(c echo.Context, u *model.User) error {
	tu := token.User{ID: u.ID, UUID: u.UUID, IsSuperuser: u.IsSuperuser}
	pair, err := h.provider.TokenPair(tu)
	if err != nil {
		h.log.Error("issue token pair", zap.Uint64("user_id", u.ID), zap.Error(err))
		return codes.ServerError.Err()
	}
	if err := h.provider.SetAuthCookie(c, tu); err != nil {
		h.log.Error("set auth cookie", zap.Uint64("user_id", u.ID), zap.Error(err))
		return codes.ServerError.Err()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user":         u,
		"accessToken":  pair.Access,
		"refreshToken": pair.Refresh,
	})
}

// sendActivation refreshes the user's temp code and queues the email.
func (h *AuthHandler) sendActivation(ctx context.Context, u *model.User) error {
	tc, err := h.users.UpdateOrCreateTempCode(ctx, u.ID)
	if err != nil {
		return err
	}
	email := ""
	if u.Email != nil {
		email = *u.Email
	}
	return h.mail.PublishActivation(ctx, mailer.ActivationEmail{
		UserUUID:    u.UUID,
		Email:       email,
		Code:        tc.Code,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func hasValue(s *string) bool { return s != nil && *s != "" }
