package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"secure-auth/internal/domain"
	"secure-auth/internal/service"
)

// AccountHandler expone las operaciones de cuenta sobre HTTP.
type AccountHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
	now    func() time.Time
}

// NewAccountHandler crea una instancia de AccountHandler con dependencias necesarias.
func NewAccountHandler(logger *zap.Logger, auth *service.AuthService) *AccountHandler {
	return &AccountHandler{
		logger: logger,
		auth:   auth,
		now:    time.Now,
	}
}

type profileResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	EmailConfirmed bool      `json:"emailConfirmed"`
	HasPassword    bool      `json:"hasPassword"`
	AuthProvider   string    `json:"authProvider,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toProfile(a domain.Account) profileResponse {
	return profileResponse{
		ID:             a.ID,
		Email:          a.Email,
		DisplayName:    a.DisplayName,
		EmailConfirmed: a.EmailConfirmed,
		HasPassword:    a.HasPassword(),
		AuthProvider:   a.AuthProvider,
		CreatedAt:      a.CreatedAt,
	}
}

// Register maneja POST /account/register.
func (h *AccountHandler) Register(c *gin.Context) {
	var req struct {
		Email           string `json:"email"`
		FullName        string `json:"fullName"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}

	_, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:           req.Email,
		FullName:        req.FullName,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "validation failed", "errors": verr.Fields})
		case errors.Is(err, service.ErrDuplicateEmail):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "email already registered",
				"code":    "duplicate_email",
				"errors":  []service.FieldError{{Field: "email", Message: "is already registered"}},
			})
		default:
			h.internalError(c, "register failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   "",
		"message": "Registration complete. Check your email to confirm your account.",
		"success": true,
	})
}

// ConfirmEmail maneja GET /account/confirm-email.
func (h *AccountHandler) ConfirmEmail(c *gin.Context) {
	userID := c.Query("userId")
	tok := c.Query("token")

	err := h.auth.ConfirmEmail(c.Request.Context(), userID, tok)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid data", "errors": verr.Fields})
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "user not found"})
		case errors.Is(err, service.ErrTokenInvalid):
			badRequest(c, "email confirmation failed")
		default:
			h.internalError(c, "confirm email failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "email confirmed"})
}

// ResendConfirmation maneja POST /account/resend-confirmation.
func (h *AccountHandler) ResendConfirmation(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid resend confirmation request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}
	if err := h.auth.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		h.uniformError(c, "resend confirmation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "if the account exists and is not confirmed, a new link has been sent"})
}

// Login maneja POST /account/login.
func (h *AccountHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var locked *service.LockedError
		switch {
		case errors.As(err, &locked):
			c.Header("Retry-After", retryAfter(locked.Until.Sub(h.now())))
			unauthorized(c, "account locked, try again later")
		case errors.Is(err, service.ErrEmailNotConfirmed):
			unauthorized(c, "email not confirmed")
		case errors.Is(err, service.ErrInvalidCredentials):
			unauthorized(c, "invalid login credentials")
		default:
			h.internalError(c, "login failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     res.Session.Value,
		"message":   "Login successful",
		"success":   true,
		"expiresAt": res.Session.ExpiresAt.UTC(),
	})
}

// ForgotPassword maneja POST /account/forgotpassword.
func (h *AccountHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid forgot password request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.uniformError(c, "forgot password failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "if the account exists, a password reset link has been sent"})
}

// ResetPassword maneja POST /account/resetpassword.
func (h *AccountHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Email           string `json:"email"`
		Token           string `json:"token"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset password request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}

	err := h.auth.ResetPassword(c.Request.Context(), service.ResetPasswordInput{
		Email:           req.Email,
		Token:           req.Token,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "validation failed", "errors": verr.Fields})
		case errors.Is(err, service.ErrTokenInvalid):
			badRequest(c, "invalid or expired token")
		default:
			h.internalError(c, "reset password failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password has been reset"})
}

// GoogleLogin maneja POST /account/google-login.
func (h *AccountHandler) GoogleLogin(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid google login request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}

	res, err := h.auth.GoogleLogin(c.Request.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, service.ErrExternalVerificationFailed) {
			badRequest(c, "invalid google token")
			return
		}
		h.internalError(c, "google login failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     res.Session.Value,
		"message":   "Login successful",
		"success":   true,
		"expiresAt": res.Session.ExpiresAt.UTC(),
	})
}

// ChangePassword maneja POST /account/change-password.
func (h *AccountHandler) ChangePassword(c *gin.Context) {
	id, ok := GetIdentity(c)
	if !ok {
		unauthorized(c, "missing session")
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid change password request", zap.Error(err))
		badRequest(c, "invalid request")
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), id, service.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "validation failed", "errors": verr.Fields})
		case errors.Is(err, service.ErrInvalidCredentials):
			unauthorized(c, "current password is incorrect")
		case errors.Is(err, service.ErrNotFound):
			unauthorized(c, "account no longer exists")
		default:
			h.internalError(c, "change password failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "password changed"})
}

// Me maneja GET /account/me.
func (h *AccountHandler) Me(c *gin.Context) {
	id, ok := GetIdentity(c)
	if !ok {
		unauthorized(c, "missing session")
		return
	}
	account, err := h.auth.Me(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			unauthorized(c, "account no longer exists")
			return
		}
		h.internalError(c, "load profile failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": toProfile(account)})
}

// uniformError cubre los endpoints que responden igual exista o no la cuenta.
func (h *AccountHandler) uniformError(c *gin.Context, msg string, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid email", "errors": verr.Fields})
		return
	}
	h.internalError(c, msg, err)
}

func (h *AccountHandler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg})
}

func unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, gin.H{"token": "", "success": false, "message": msg})
}

func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
