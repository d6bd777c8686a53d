package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/portcullis/internal/auth"
	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/middleware"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/oauth"
	"github.com/hitoshi/portcullis/internal/repository"
	"github.com/hitoshi/portcullis/internal/session"
	"github.com/hitoshi/portcullis/internal/user"
)

// --- テスト用メトリクス ---

// eventRecorder はログイン・ログアウトの記録を保持する。
type eventRecorder struct {
	metrics.Nop
	mu      sync.Mutex
	logins  []string
	logouts int
}

func (r *eventRecorder) RecordLogin(method, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, method+"/"+outcome)
}

func (r *eventRecorder) RecordLogout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logouts++
}

func (r *eventRecorder) logoutCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logouts
}

func (r *eventRecorder) loginEvents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logins...)
}

// --- テスト用IdP ---

// stubIdP はトークンエンドポイントとユーザー情報エンドポイントを持つIdP。
// コード"good-code"のみ受け付ける。
type stubIdP struct {
	*httptest.Server

	mu       sync.Mutex
	userinfo map[string]any
	verifier string
}

func newStubIdP(t *testing.T) *stubIdP {
	t.Helper()
	idp := &stubIdP{userinfo: map[string]any{
		"id":    42,
		"login": "octocat",
		"name":  "Octo Cat",
		"email": "octo@example.com",
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		idp.mu.Lock()
		idp.verifier = r.PostForm.Get("code_verifier")
		idp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "stub-token",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stub-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		idp.mu.Lock()
		defer idp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(idp.userinfo)
	})

	idp.Server = httptest.NewServer(mux)
	t.Cleanup(idp.Close)
	return idp
}

func (i *stubIdP) lastVerifier() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.verifier
}

// --- テスト環境 ---

// okPinger は常に疎通できるHealthChecker。
type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

type testEnv struct {
	server   *httptest.Server
	idp      *stubIdP
	users    *repository.MemoryUserRepo
	sessions *repository.MemorySessionRepo
	events   *eventRecorder
	hasher   auth.PasswordHasher
}

// newTestEnv はインメモリのストアとスタブIdPで構成したルーターを起動する。
// optsでRouterDepsを上書きできる。
func newTestEnv(t *testing.T, opts ...func(*RouterDeps)) *testEnv {
	t.Helper()

	env := &testEnv{
		idp:      newStubIdP(t),
		users:    repository.NewMemoryUserRepo(),
		sessions: repository.NewMemorySessionRepo(),
		events:   &eventRecorder{},
		hasher:   auth.NewBcryptHasher(bcrypt.MinCost),
	}

	cfg, err := oauth.BuiltinProvider("github", "client-id", "client-secret", "http://app.test/auth/github/callback")
	if err != nil {
		t.Fatalf("BuiltinProvider: %v", err)
	}
	cfg.AuthURL = env.idp.URL + "/authorize"
	cfg.TokenURL = env.idp.URL + "/token"
	cfg.UserInfoURL = env.idp.URL + "/userinfo"
	cfg.EmailsURL = env.idp.URL + "/emails"
	registry, err := oauth.NewRegistry([]oauth.ProviderConfig{cfg}, oauth.Options{HTTPClient: env.idp.Client()})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	manager := session.NewManager(env.sessions, env.users, session.Config{MaxAge: time.Hour})
	limiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(1000, 1000))
	t.Cleanup(limiter.Stop)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_up_total", Help: "test"}))

	deps := &RouterDeps{
		Sessions:          manager,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		Authenticator:     auth.NewAuthenticator(env.users, env.hasher),
		Reconciler:        auth.NewReconciler(env.users, env.hasher, env.events),
		Providers:         registry,
		StateCodec:        oauth.NewStateCodec([]byte("state-secret-for-tests-32-bytes!!"), time.Minute),
		UserService:       user.NewService(env.users, env.hasher, env.events),
		HealthChecker:     okPinger{},
		Metrics:           env.events,
		MetricsHandler:    metrics.Handler(reg),
	}
	for _, opt := range opts {
		opt(deps)
	}
	router := NewRouter(deps)

	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

// createUser はローカルユーザーを直接ストアに作成する。
func (e *testEnv) createUser(t *testing.T, username, password string) *model.User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	u := &model.User{
		ID:           "user-" + username,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return u
}

// testClient はCookieを保持し、リダイレクトを追跡しないブラウザ相当のクライアント。
type testClient struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func (e *testEnv) newClient(t *testing.T) *testClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	base, _ := url.Parse(e.server.URL)
	return &testClient{
		t:    t,
		base: base,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *testClient) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.client.Get(c.base.String() + path)
	if err != nil {
		c.t.Fatalf("GET %s: %v", path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// postForm はCSRFトークンを付与してフォームを送信する。
func (c *testClient) postForm(path string, form url.Values) *http.Response {
	c.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set(middleware.CSRFFormField, c.csrfToken())
	return c.postRaw(path, form)
}

func (c *testClient) postRaw(path string, form url.Values) *http.Response {
	c.t.Helper()
	resp, err := c.client.PostForm(c.base.String()+path, form)
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// csrfToken はCSRF Cookieの値を返す。未取得の場合はトークンエンドポイントから取得する。
func (c *testClient) csrfToken() string {
	c.t.Helper()
	if v := c.cookie("csrf_token"); v != "" {
		return v
	}
	c.get("/auth/csrf-token")
	v := c.cookie("csrf_token")
	if v == "" {
		c.t.Fatal("csrf cookie was not set")
	}
	return v
}

func (c *testClient) cookie(name string) string {
	for _, ck := range c.client.Jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// login はローカルログインを行い、成功したことを確認する。
func (c *testClient) login(username, password string) {
	c.t.Helper()
	resp := c.postForm("/login", url.Values{"username": {username}, "password": {password}})
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/" {
		c.t.Fatalf("login: status = %d, Location = %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func assertRedirect(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if got := resp.Header.Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("body does not contain %q:\n%s", want, body)
	}
}
