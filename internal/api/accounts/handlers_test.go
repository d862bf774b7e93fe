package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/apperr"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
	"github.com/FilipRus/boxItFindIt/internal/middleware"
	"github.com/FilipRus/boxItFindIt/internal/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// stubAccounts records the last call and returns canned results.
type stubAccounts struct {
	signupIn  services.SignupInput
	signupErr error

	loginErr error

	verifyToken string
	forgotErr   error
	resetErr    error

	exists, verified bool
	checkErr         error

	meID  string
	meErr error

	testEmailErr error
}

func (s *stubAccounts) Signup(_ context.Context, in services.SignupInput) (*models.User, error) {
	s.signupIn = in
	if s.signupErr != nil {
		return nil, s.signupErr
	}
	name := in.Name
	return &models.User{ID: "user-1", Email: in.Email, Name: &name, PasswordHash: "secret-hash"}, nil
}

func (s *stubAccounts) Login(_ context.Context, email, _ string) (*services.LoginResult, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &services.LoginResult{
		Token:     "jwt-token",
		ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		User:      &models.User{ID: "user-1", Email: email},
	}, nil
}

func (s *stubAccounts) VerifyEmail(_ context.Context, token string) string {
	s.verifyToken = token
	if token == "good" {
		return services.VerifyOK
	}
	return services.VerifyInvalidToken
}

func (s *stubAccounts) VerifyRedirectURL(outcome string) string {
	return "https://app.example.com/auth/signin?" + outcome
}

func (s *stubAccounts) ForgotPassword(context.Context, string) error { return s.forgotErr }

func (s *stubAccounts) ResetPassword(context.Context, string, string) error { return s.resetErr }

func (s *stubAccounts) CheckUser(context.Context, string) (bool, bool, error) {
	return s.exists, s.verified, s.checkErr
}

func (s *stubAccounts) Me(_ context.Context, userID string) (*models.User, error) {
	s.meID = userID
	if s.meErr != nil {
		return nil, s.meErr
	}
	return &models.User{ID: userID, Email: "alice@example.com"}, nil
}

func (s *stubAccounts) SendTestEmail(context.Context, string) (string, error) {
	if s.testEmailErr != nil {
		return "", s.testEmailErr
	}
	return "alice@example.com", nil
}

func newAccountsRouter(svc AccountService) *gin.Engine {
	h := NewHandlers(svc)
	r := gin.New()
	r.POST("/signup", h.Signup())
	r.POST("/login", h.Login())
	r.GET("/verify", h.Verify())
	r.POST("/forgot-password", h.ForgotPassword())
	r.POST("/reset-password", h.ResetPassword())
	r.POST("/check-user", h.CheckUser())

	authed := r.Group("/")
	authed.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "user-1")
		c.Next()
	})
	authed.GET("/me", h.Me())
	authed.POST("/test-email", h.TestEmail())
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestSignup_Created(t *testing.T) {
	svc := &stubAccounts{}
	w := doJSON(newAccountsRouter(svc), http.MethodPost, "/signup",
		`{"email":"alice@example.com","password":"password1","name":"Alice"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["message"] != services.SignupMessage {
		t.Errorf("message = %v", body["message"])
	}
	user, _ := body["user"].(map[string]interface{})
	if user["id"] != "user-1" || user["email"] != "alice@example.com" || user["name"] != "Alice" {
		t.Errorf("user = %v", user)
	}
	if len(user) != 3 {
		t.Errorf("user has extra fields: %v", user)
	}
	if svc.signupIn.Password != "password1" {
		t.Errorf("password not passed through: %+v", svc.signupIn)
	}
}

func TestSignup_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"malformed json", `{"email":`, nil, http.StatusBadRequest},
		{"validation", `{"email":""}`, apperr.Invalidf("Email and password are required"), http.StatusBadRequest},
		{"duplicate", `{"email":"a@example.com","password":"password1"}`, apperr.Conflictf("User already exists"), http.StatusConflict},
		{"store failure", `{"email":"a@example.com","password":"password1"}`, apperr.Upstream("Failed to create user", errors.New("boom")), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(newAccountsRouter(&stubAccounts{signupErr: tt.err}), http.MethodPost, "/signup", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if decode(t, w)["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestLogin(t *testing.T) {
	w := doJSON(newAccountsRouter(&stubAccounts{}), http.MethodPost, "/login",
		`{"email":"alice@example.com","password":"password1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["token"] != "jwt-token" || body["expiresAt"] == nil || body["user"] == nil {
		t.Errorf("body = %v", body)
	}
}

func TestLogin_Unverified(t *testing.T) {
	svc := &stubAccounts{loginErr: apperr.New(apperr.Forbidden, "Email not verified")}
	w := doJSON(newAccountsRouter(svc), http.MethodPost, "/login", `{"email":"a@example.com","password":"x"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := decode(t, w)["error"]; got != "Email not verified" {
		t.Errorf("error = %v", got)
	}
}

func TestLogin_WrongCredentials(t *testing.T) {
	svc := &stubAccounts{loginErr: apperr.New(apperr.Unauthorized, "Invalid email or password")}
	w := doJSON(newAccountsRouter(svc), http.MethodPost, "/login", `{"email":"a@example.com","password":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestVerify_Redirects(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"?token=good", "https://app.example.com/auth/signin?message=verified"},
		{"?token=bad", "https://app.example.com/auth/signin?error=invalid-token"},
		{"", "https://app.example.com/auth/signin?error=invalid-token"},
	}
	for _, tt := range tests {
		svc := &stubAccounts{}
		w := doJSON(newAccountsRouter(svc), http.MethodGet, "/verify"+tt.query, "")
		if w.Code != http.StatusFound {
			t.Errorf("%q: status = %d, want 302", tt.query, w.Code)
		}
		if got := w.Header().Get("Location"); got != tt.want {
			t.Errorf("%q: Location = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestForgotPassword_SameMessage(t *testing.T) {
	w := doJSON(newAccountsRouter(&stubAccounts{}), http.MethodPost, "/forgot-password", `{"email":"nobody@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["message"]; got != services.ForgotPasswordMessage {
		t.Errorf("message = %v", got)
	}
}

func TestForgotPassword_MissingEmail(t *testing.T) {
	svc := &stubAccounts{forgotErr: apperr.Invalidf("Email is required")}
	w := doJSON(newAccountsRouter(svc), http.MethodPost, "/forgot-password", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestResetPassword(t *testing.T) {
	w := doJSON(newAccountsRouter(&stubAccounts{}), http.MethodPost, "/reset-password", `{"token":"t","password":"newpassword"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	svc := &stubAccounts{resetErr: apperr.Invalidf("Invalid or expired reset token")}
	w = doJSON(newAccountsRouter(svc), http.MethodPost, "/reset-password", `{"token":"t","password":"newpassword"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if got := decode(t, w)["error"]; got != "Invalid or expired reset token" {
		t.Errorf("error = %v", got)
	}
}

func TestCheckUser(t *testing.T) {
	w := doJSON(newAccountsRouter(&stubAccounts{exists: true}), http.MethodPost, "/check-user", `{"email":"a@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["exists"] != true || body["verified"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestCheckUser_MissingEmail(t *testing.T) {
	svc := &stubAccounts{checkErr: apperr.Invalidf("Email is required")}
	for _, payload := range []string{`{}`, `not json`} {
		w := doJSON(newAccountsRouter(svc), http.MethodPost, "/check-user", payload)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", payload, w.Code)
		}
		body := decode(t, w)
		if body["exists"] != false || body["verified"] != false {
			t.Errorf("%s: body = %v", payload, body)
		}
	}
}

func TestMe(t *testing.T) {
	svc := &stubAccounts{}
	w := doJSON(newAccountsRouter(svc), http.MethodGet, "/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.meID != "user-1" {
		t.Errorf("Me called with %q, want user-1", svc.meID)
	}
	user, _ := decode(t, w)["user"].(map[string]interface{})
	if user["email"] != "alice@example.com" {
		t.Errorf("user = %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Error("password hash serialized")
	}
}

func TestTestEmail(t *testing.T) {
	w := doJSON(newAccountsRouter(&stubAccounts{}), http.MethodPost, "/test-email", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if decode(t, w)["to"] != "alice@example.com" {
		t.Errorf("body = %s", w.Body.String())
	}

	svc := &stubAccounts{testEmailErr: apperr.Upstream("Failed to send test email", errors.New("dial tcp: refused"))}
	w = doJSON(newAccountsRouter(svc), http.MethodPost, "/test-email", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}
