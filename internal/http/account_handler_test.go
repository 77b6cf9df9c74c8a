package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"secure-auth/internal/federation"
	"secure-auth/internal/lockout"
	"secure-auth/internal/password"
	"secure-auth/internal/repository"
	"secure-auth/internal/service"
	"secure-auth/internal/session"
	"secure-auth/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type mockNotifier struct {
	mu    sync.Mutex
	links []string
}

func (m *mockNotifier) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "http") {
			m.links = append(m.links, strings.TrimSpace(line))
		}
	}
	return nil
}

func (m *mockNotifier) lastLink(t *testing.T) *url.URL {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		t.Fatalf("expected a mailed link")
	}
	u, err := url.Parse(m.links[len(m.links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

type testEnv struct {
	router   *gin.Engine
	notifier *mockNotifier
	sessions *session.Issuer
}

func setupRouter(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher, err := password.NewArgon2Hasher(password.Params{MemoryKB: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	purpose, err := token.NewIssuer(token.DeriveSecret(testSecret), "secure-auth", 24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("purpose issuer: %v", err)
	}
	sessions := session.NewIssuer(testSecret, "secure-auth", "secure-auth-clients", time.Hour)
	notifier := &mockNotifier{}
	verifier := &federation.StaticVerifier{Tokens: map[string]federation.Assertion{
		"good-google-token": {Provider: "google", Subject: "g-1", Email: "gus@example.com", DisplayName: "Gus"},
	}}

	svc, err := service.NewAuthService(zap.NewNop(), service.AuthDeps{
		Accounts:      repository.NewMemoryAccountRepository(),
		Hasher:        hasher,
		Lockout:       lockout.Policy{Threshold: 5, Duration: 5 * time.Minute},
		PurposeTokens: purpose,
		Sessions:      sessions,
		Verifier:      verifier,
		Notifier:      notifier,
		Limiter:       service.NewRequestLimiter(time.Hour, 100),
		PublicBaseURL: "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	r := NewRouter(zap.NewNop(), NewAccountHandler(zap.NewNop(), svc), sessions)
	return testEnv{router: r, notifier: notifier, sessions: sessions}
}

func performRequest(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func registerBody(email string) map[string]string {
	return map[string]string{
		"email":           email,
		"fullName":        "Alice Example",
		"password":        "Passw0rd!",
		"confirmPassword": "Passw0rd!",
	}
}

func (e testEnv) registerAndConfirm(t *testing.T, email string) {
	t.Helper()
	if rec := performRequest(e.router, http.MethodPost, "/account/register", registerBody(email)); rec.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	link := e.notifier.lastLink(t)
	if rec := performRequest(e.router, http.MethodGet, link.RequestURI(), nil); rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func (e testEnv) login(t *testing.T, email, pw string) *httptest.ResponseRecorder {
	t.Helper()
	return performRequest(e.router, http.MethodPost, "/account/login", map[string]string{"email": email, "password": pw})
}

func TestAccountHandler_RegisterReturnsNoToken(t *testing.T) {
	env := setupRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/account/register", registerBody("alice@example.com"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["token"] != "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if env.notifier.count() != 1 {
		t.Fatalf("expected confirmation email")
	}
}

func TestAccountHandler_RegisterDuplicateEmail(t *testing.T) {
	env := setupRouter(t)
	performRequest(env.router, http.MethodPost, "/account/register", registerBody("alice@example.com"))

	rec := performRequest(env.router, http.MethodPost, "/account/register", registerBody("ALICE@example.com"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decode(t, rec); body["code"] != "duplicate_email" || body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAccountHandler_RegisterValidationErrors(t *testing.T) {
	env := setupRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/account/register", map[string]string{
		"email": "bad", "fullName": "A", "password": "short", "confirmPassword": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errs, ok := decode(t, rec)["errors"].([]any)
	if !ok || len(errs) == 0 {
		t.Fatalf("expected field errors, got %s", rec.Body.String())
	}
	first := errs[0].(map[string]any)
	if first["field"] == "" || first["message"] == "" {
		t.Fatalf("expected field and message, got %v", first)
	}

	rec = performRequest(env.router, http.MethodPost, "/account/register", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestAccountHandler_ConfirmEmail(t *testing.T) {
	env := setupRouter(t)
	performRequest(env.router, http.MethodPost, "/account/register", registerBody("alice@example.com"))
	link := env.notifier.lastLink(t)

	if rec := performRequest(env.router, http.MethodGet, "/account/confirm-email", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing params: expected 400, got %d", rec.Code)
	}
	q := link.Query()
	if rec := performRequest(env.router, http.MethodGet, "/account/confirmemail?userId=nope&token="+url.QueryEscape(q.Get("token")), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", rec.Code)
	}
	if rec := performRequest(env.router, http.MethodGet, "/account/confirm-email?userId="+q.Get("userId")+"&token=forged", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("forged token: expected 400, got %d", rec.Code)
	}
	if rec := performRequest(env.router, http.MethodGet, link.RequestURI(), nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := performRequest(env.router, http.MethodGet, link.RequestURI(), nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("reused token: expected 400, got %d", rec.Code)
	}
}

func TestAccountHandler_LoginFlow(t *testing.T) {
	env := setupRouter(t)
	performRequest(env.router, http.MethodPost, "/account/register", registerBody("alice@example.com"))

	rec := env.login(t, "alice@example.com", "Passw0rd!")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unconfirmed: expected 401, got %d", rec.Code)
	}
	if body := decode(t, rec); body["message"] != "email not confirmed" || body["token"] != "" {
		t.Fatalf("unexpected body: %v", body)
	}

	link := env.notifier.lastLink(t)
	performRequest(env.router, http.MethodGet, link.RequestURI(), nil)

	rec = env.login(t, "alice@example.com", "Passw0rd!")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	tok, _ := body["token"].(string)
	if tok == "" || body["expiresAt"] == nil {
		t.Fatalf("expected token and expiry, got %v", body)
	}
	claims, err := env.sessions.Parse(tok)
	if err != nil || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected session: %+v %v", claims, err)
	}

	rec = performRequest(env.router, http.MethodGet, "/account/me", nil, "Authorization", "Bearer "+tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rec.Code)
	}
	account, _ := decode(t, rec)["account"].(map[string]any)
	if account["email"] != "alice@example.com" || account["emailConfirmed"] != true {
		t.Fatalf("unexpected profile: %v", account)
	}
	if _, leaked := account["passwordHash"]; leaked {
		t.Fatalf("profile must not expose the hash")
	}
}

func TestAccountHandler_LockedLoginSetsRetryAfter(t *testing.T) {
	env := setupRouter(t)
	env.registerAndConfirm(t, "alice@example.com")

	for i := 0; i < 5; i++ {
		if rec := env.login(t, "alice@example.com", "wrong-Passw0rd"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	rec := env.login(t, "alice@example.com", "Passw0rd!")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "300" {
		t.Fatalf("expected Retry-After 300, got %q", got)
	}
}

func TestAccountHandler_ForgotPasswordIsUniform(t *testing.T) {
	env := setupRouter(t)
	env.registerAndConfirm(t, "alice@example.com")
	before := env.notifier.count()

	known := performRequest(env.router, http.MethodPost, "/account/forgotpassword", map[string]string{"email": "alice@example.com"})
	unknown := performRequest(env.router, http.MethodPost, "/account/forgotpassword", map[string]string{"email": "ghost@example.com"})
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("responses differ: %s vs %s", known.Body.String(), unknown.Body.String())
	}
	if env.notifier.count() != before+1 {
		t.Fatalf("expected one reset email")
	}

	if rec := performRequest(env.router, http.MethodPost, "/account/forgotpassword", map[string]string{"email": "nope"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid email: expected 400, got %d", rec.Code)
	}
}

func TestAccountHandler_ResetPassword(t *testing.T) {
	env := setupRouter(t)
	env.registerAndConfirm(t, "alice@example.com")
	performRequest(env.router, http.MethodPost, "/account/forgotpassword", map[string]string{"email": "alice@example.com"})
	tok := env.notifier.lastLink(t).Query().Get("token")

	weak := performRequest(env.router, http.MethodPost, "/account/resetpassword", map[string]string{
		"email": "alice@example.com", "token": tok, "newPassword": "weakpass", "confirmPassword": "weakpass",
	})
	if weak.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", weak.Code)
	}

	ok := performRequest(env.router, http.MethodPost, "/account/resetpassword", map[string]string{
		"email": "alice@example.com", "token": tok, "newPassword": "Fresh1Pass", "confirmPassword": "Fresh1Pass",
	})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ok.Code, ok.Body.String())
	}

	again := performRequest(env.router, http.MethodPost, "/account/resetpassword", map[string]string{
		"email": "alice@example.com", "token": tok, "newPassword": "Other1Pass", "confirmPassword": "Other1Pass",
	})
	if again.Code != http.StatusBadRequest {
		t.Fatalf("reused token: expected 400, got %d", again.Code)
	}
	if rec := env.login(t, "alice@example.com", "Fresh1Pass"); rec.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", rec.Code)
	}
}

func TestAccountHandler_GoogleLogin(t *testing.T) {
	env := setupRouter(t)

	rec := performRequest(env.router, http.MethodPost, "/account/google-login", map[string]string{"idToken": "forged"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = performRequest(env.router, http.MethodPost, "/account/googlelogin", map[string]string{"idToken": "good-google-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	tok, _ := decode(t, rec)["token"].(string)
	claims, err := env.sessions.Parse(tok)
	if err != nil || claims.Email != "gus@example.com" {
		t.Fatalf("unexpected session: %+v %v", claims, err)
	}
}

func TestAccountHandler_ChangePasswordRequiresSession(t *testing.T) {
	env := setupRouter(t)
	env.registerAndConfirm(t, "alice@example.com")
	tok, _ := decode(t, env.login(t, "alice@example.com", "Passw0rd!"))["token"].(string)

	change := map[string]string{"currentPassword": "Passw0rd!", "newPassword": "Fresh1Pass", "confirmPassword": "Fresh1Pass"}
	if rec := performRequest(env.router, http.MethodPost, "/account/change-password", change); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no session: expected 401, got %d", rec.Code)
	}

	wrong := map[string]string{"currentPassword": "nope", "newPassword": "Fresh1Pass", "confirmPassword": "Fresh1Pass"}
	if rec := performRequest(env.router, http.MethodPost, "/account/change-password", wrong, "Authorization", "Bearer "+tok); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current password: expected 401, got %d", rec.Code)
	}

	if rec := performRequest(env.router, http.MethodPost, "/account/change-password", change, "Authorization", "Bearer "+tok); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.login(t, "alice@example.com", "Fresh1Pass"); rec.Code != http.StatusOK {
		t.Fatalf("login with changed password: expected 200, got %d", rec.Code)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := setupRouter(t)

	if rec := performRequest(env.router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	performRequest(env.router, http.MethodPost, "/account/login", map[string]string{"email": "x@example.com", "password": "p"})

	rec := performRequest(env.router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `secure_auth_http_requests_total{method="POST",path="/account/login",status="401"}`) {
		t.Fatalf("expected request counter in exposition")
	}
	if !strings.Contains(rec.Body.String(), "secure_auth_login_total") {
		t.Fatalf("expected login counter in exposition")
	}
}
