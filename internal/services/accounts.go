package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/db"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

// ForgotPasswordMessage is returned whether or not the address has an account.
const ForgotPasswordMessage = "If an account with that email exists, we've sent a password reset link."

// SignupMessage is returned after a successful signup.
const SignupMessage = "Account created! Please check your email to verify your account."

// AccountConfig holds the account settings taken from config.Auth and config.Server.
type AccountConfig struct {
	BcryptCost           int
	ResetTokenTTL        time.Duration
	RequireVerifiedEmail bool
	// AppURL is the frontend origin that verification redirects point at.
	AppURL string
}

// AccountService implements signup, login, email verification and password reset.
type AccountService struct {
	users  UserStore
	tokens *auth.TokenManager
	mailer Mailer
	cfg    AccountConfig
	now    func() time.Time
}

// NewAccountService creates an AccountService.
func NewAccountService(users UserStore, tokens *auth.TokenManager, mailer Mailer, cfg AccountConfig) *AccountService {
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &AccountService{users: users, tokens: tokens, mailer: mailer, cfg: cfg, now: time.Now}
}

// SignupInput is the signup request.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// Signup creates an unverified account and queues the verification email.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	email := validation.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.Invalidf("Email and password are required")
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, apperr.Invalidf("%s", err.Error())
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, storeError("Failed to look up user", err)
	}
	if existing != nil {
		return nil, apperr.Conflictf("User already exists")
	}

	hash, err := auth.HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to hash password", err)
	}
	token, err := auth.NewToken()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to generate verification token", err)
	}

	user := &models.User{
		Email:             email,
		PasswordHash:      hash,
		VerificationToken: &token,
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		user.Name = &name
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, apperr.Conflictf("User already exists")
		}
		return nil, storeError("Failed to create user", err)
	}

	s.mailer.SendVerification(user.Email, user.DisplayName(), token)
	slog.Info("user signed up", "user_id", user.ID)
	return user, nil
}

// LoginResult carries a session token.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Login checks credentials and issues a session token.
func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Invalidf("Email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, storeError("Failed to look up user", err)
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.New(apperr.Unauthorized, "Invalid email or password")
	}
	if s.cfg.RequireVerifiedEmail && !user.EmailVerified {
		return nil, apperr.New(apperr.Forbidden, "Email not verified")
	}

	token, expiresAt, err := s.tokens.Generate(user.ID, user.Email)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "Failed to issue token", err)
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Verification outcomes, used as query parameters on the sign-in page.
const (
	VerifyOK              = "message=verified"
	VerifyAlreadyVerified = "message=already-verified"
	VerifyInvalidToken    = "error=invalid-token"
	VerifyFailed          = "error=verification-failed"
)

// VerifyEmail consumes a verification token and returns the outcome.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) string {
	if token == "" {
		return VerifyInvalidToken
	}
	user, err := s.users.GetUserByVerificationToken(ctx, token)
	if err != nil {
		slog.Error("email verification lookup failed", "error", err)
		return VerifyFailed
	}
	if user == nil {
		return VerifyInvalidToken
	}
	if user.EmailVerified {
		return VerifyAlreadyVerified
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		slog.Error("failed to mark email verified", "user_id", user.ID, "error", err)
		return VerifyFailed
	}
	slog.Info("email verified", "user_id", user.ID)
	return VerifyOK
}

// VerifyRedirectURL is the sign-in page address for a verification outcome.
func (s *AccountService) VerifyRedirectURL(outcome string) string {
	return s.cfg.AppURL + "/auth/signin?" + outcome
}

// ForgotPassword stores a reset token for an existing account and queues the email.
// Unknown addresses succeed silently.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email = validation.NormalizeEmail(email)
	if email == "" {
		return apperr.Invalidf("Email is required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return storeError("Failed to look up user", err)
	}
	if user == nil {
		return nil
	}

	token, err := auth.NewToken()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "Failed to generate reset token", err)
	}
	expiresAt := s.now().Add(s.cfg.ResetTokenTTL)
	if err := s.users.SetPasswordResetToken(ctx, user.ID, token, expiresAt); err != nil {
		return storeError("Failed to store reset token", err)
	}

	s.mailer.SendPasswordReset(user.Email, user.DisplayName(), token, s.cfg.ResetTokenTTL)
	return nil
}

// ResetPassword sets a new password using a single-use reset token.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return apperr.Invalidf("Invalid or expired reset token")
	}
	if err := validation.ValidatePassword(password); err != nil {
		return apperr.Invalidf("%s", err.Error())
	}

	user, err := s.users.GetUserByResetToken(ctx, token)
	if err != nil {
		return storeError("Failed to look up reset token", err)
	}
	if user == nil || !user.ResetTokenValid(s.now()) {
		return apperr.Invalidf("Invalid or expired reset token")
	}

	hash, err := auth.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "Failed to hash password", err)
	}
	ok, err := s.users.ResetPassword(ctx, user.ID, token, hash)
	if err != nil {
		return storeError("Failed to reset password", err)
	}
	if !ok {
		return apperr.Invalidf("Invalid or expired reset token")
	}
	slog.Info("password reset", "user_id", user.ID)
	return nil
}

// CheckUser reports whether an account exists for email and whether it is verified.
func (s *AccountService) CheckUser(ctx context.Context, email string) (exists, verified bool, err error) {
	email = validation.NormalizeEmail(email)
	if email == "" {
		return false, false, apperr.Invalidf("Email is required")
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return false, false, storeError("Failed to look up user", err)
	}
	if user == nil {
		return false, false, nil
	}
	return true, user.EmailVerified, nil
}

// Me returns the authenticated user.
func (s *AccountService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeError("Failed to load user", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.Unauthorized, "User no longer exists")
	}
	return user, nil
}

// SendTestEmail delivers a test message to the authenticated user.
func (s *AccountService) SendTestEmail(ctx context.Context, userID string) (string, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := s.mailer.SendTest(ctx, user.Email); err != nil {
		return "", apperr.Upstream("Failed to send test email", err)
	}
	return user.Email, nil
}
