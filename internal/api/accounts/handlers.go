// Package accounts implements the /api/auth endpoints: signup, login, email verification,
// password reset, the signup-form user check and the current-user lookup.
package accounts

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
	"github.com/FilipRus/boxItFindIt/internal/services"
)

// AccountService is the account logic the handlers delegate to.
type AccountService interface {
	Signup(ctx context.Context, in services.SignupInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	VerifyEmail(ctx context.Context, token string) string
	VerifyRedirectURL(outcome string) string
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	CheckUser(ctx context.Context, email string) (exists, verified bool, err error)
	Me(ctx context.Context, userID string) (*models.User, error)
	SendTestEmail(ctx context.Context, userID string) (string, error)
}

// Handlers serves the account endpoints.
type Handlers struct {
	accounts AccountService
}

// NewHandlers creates account Handlers.
func NewHandlers(accounts AccountService) *Handlers {
	return &Handlers{accounts: accounts}
}

// SignupRequest is the body of POST /api/auth/signup
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// EmailRequest is the body of forgot-password and check-user
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body of POST /api/auth/reset-password
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		apperr.Respond(c, apperr.Invalidf("Invalid request body"))
		return false
	}
	return true
}

// @Summary      Sign up
// @Description  Create an unverified account and send the verification email.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  SignupRequest  true  "Account details"
// @Success      201  {object}  map[string]interface{}  "message, user{id,email,name}"
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      409  {object}  map[string]interface{}  "User already exists"
// @Router       /api/auth/signup [post]
func (h *Handlers) Signup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SignupRequest
		if !bindJSON(c, &req) {
			return
		}

		user, err := h.accounts.Signup(c.Request.Context(), services.SignupInput{
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
		})
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": services.SignupMessage,
			"user": gin.H{
				"id":    user.ID,
				"email": user.Email,
				"name":  user.Name,
			},
		})
	}
}

// @Summary      Log in
// @Description  Exchange email and password for a session token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  services.LoginResult
// @Failure      401  {object}  map[string]interface{}  "Invalid email or password"
// @Failure      403  {object}  map[string]interface{}  "Email not verified"
// @Router       /api/auth/login [post]
func (h *Handlers) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// Verify consumes the token from the verification link and redirects to the sign-in page
// with the outcome in the query string.
// GET /api/auth/verify?token=
func (h *Handlers) Verify() gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome := h.accounts.VerifyEmail(c.Request.Context(), c.Query("token"))
		c.Redirect(http.StatusFound, h.accounts.VerifyRedirectURL(outcome))
	}
}

// ForgotPassword answers with the same message whether or not the account exists.
// POST /api/auth/forgot-password
func (h *Handlers) ForgotPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmailRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := h.accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": services.ForgotPasswordMessage})
	}
}

// ResetPassword sets a new password from a reset token.
// POST /api/auth/reset-password
func (h *Handlers) ResetPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetPasswordRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := h.accounts.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully"})
	}
}

// CheckUser reports whether an account exists and is verified. The sign-in page uses it
// to explain a failed login.
// POST /api/auth/check-user
func (h *Handlers) CheckUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"exists": false, "verified": false, "error": "Email is required"})
			return
		}

		exists, verified, err := h.accounts.CheckUser(c.Request.Context(), req.Email)
		if err != nil {
			if apperr.KindOf(err) == apperr.InvalidInput {
				c.JSON(http.StatusBadRequest, gin.H{"exists": false, "verified": false, "error": "Email is required"})
				return
			}
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exists": exists, "verified": verified})
	}
}

// Me returns the authenticated user.
// GET /api/auth/me
func (h *Handlers) Me() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.accounts.Me(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

// TestEmail sends a test message to the authenticated user. Mounted only in development mode.
// POST /api/test-email
func (h *Handlers) TestEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		to, err := h.accounts.SendTestEmail(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Email sent successfully",
			"to":      to,
		})
	}
}
