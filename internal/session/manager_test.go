package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/repository"
)

// --- モック定義 ---

type mockUserFinder struct {
	calls      int
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.calls++
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

var _ UserFinder = (*mockUserFinder)(nil)
var _ Store = (*repository.MemorySessionRepo)(nil)

// MemorySessionRepoは実時刻で期限切れを判定するため、基準時刻は現在時刻にする
var testNow = time.Now().Truncate(time.Second)

// newTestManager は連番トークンを発行するManagerを生成する。
func newTestManager(store Store, users UserFinder) *Manager {
	m := NewManager(store, users, Config{MaxAge: time.Hour})
	m.now = func() time.Time { return testNow }
	n := 0
	m.newToken = func() (string, error) {
		n++
		return "token-" + string(rune('a'+n-1)), nil
	}
	return m
}

func usersWith(users ...*model.User) *mockUserFinder {
	return &mockUserFinder{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			for _, u := range users {
				if u.ID == id {
					return u, nil
				}
			}
			return nil, nil
		},
	}
}

// cookieFrom はレスポンスから指定名のCookieを取得する。
func cookieFrom(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestLoad_EmptyTokenReturnsFreshUnauthenticatedState(t *testing.T) {
	m := newTestManager(repository.NewMemorySessionRepo(), &mockUserFinder{})

	st, err := m.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ok, err := st.IsAuthenticated(context.Background())
	if err != nil || ok {
		t.Errorf("IsAuthenticated() = %v, %v; want false, nil", ok, err)
	}
	if st.Modified() {
		t.Error("fresh state should not be modified")
	}
}

func TestLoad_UnknownTokenReturnsFreshState(t *testing.T) {
	m := newTestManager(repository.NewMemorySessionRepo(), &mockUserFinder{})

	st, err := m.Load(context.Background(), "forged-token")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.Token() == "forged-token" {
		t.Error("unknown token must not be adopted")
	}
	if st.UserID() != "" {
		t.Errorf("UserID() = %q, want empty", st.UserID())
	}
}

func TestLoad_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("db down")
	m := newTestManager(&failingStore{err: storeErr}, &mockUserFinder{})

	if _, err := m.Load(context.Background(), "token"); !errors.Is(err, storeErr) {
		t.Errorf("Load() error = %v, want wrapped store error", err)
	}
}

func TestSetUser_Save_Load_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	alice := &model.User{ID: "user-alice", Username: "alice"}
	m := newTestManager(store, usersWith(alice))

	st, _ := m.Load(ctx, "")
	if err := st.SetUser(alice); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
	w := httptest.NewRecorder()
	if err := m.Save(ctx, w, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	c := cookieFrom(t, w, DefaultCookieName)
	if c == nil {
		t.Fatal("session cookie not set")
	}
	if !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if c.MaxAge != 3600 {
		t.Errorf("cookie MaxAge = %d, want 3600", c.MaxAge)
	}

	next, err := m.Load(ctx, c.Value)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	user, err := next.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user == nil || user.ID != alice.ID {
		t.Errorf("CurrentUser() = %+v, want alice", user)
	}
}

func TestIsAuthenticated_Transitions(t *testing.T) {
	ctx := context.Background()
	alice := &model.User{ID: "user-alice"}
	m := newTestManager(repository.NewMemorySessionRepo(), usersWith(alice))

	st, _ := m.Load(ctx, "")
	if ok, _ := st.IsAuthenticated(ctx); ok {
		t.Fatal("fresh state must be unauthenticated")
	}

	_ = st.SetUser(alice)
	if ok, _ := st.IsAuthenticated(ctx); !ok {
		t.Fatal("state must be authenticated after SetUser")
	}

	st.Clear()
	if ok, _ := st.IsAuthenticated(ctx); ok {
		t.Fatal("state must be unauthenticated after Clear")
	}

	// Clearは冪等
	st.Clear()
	if ok, _ := st.IsAuthenticated(ctx); ok {
		t.Fatal("state must stay unauthenticated after second Clear")
	}
}

func TestCurrentUser_IsMemoized(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	_ = store.Save(ctx, &model.Session{ID: "sess", UserID: "user-alice", ExpiresAt: time.Now().Add(time.Hour)})
	users := usersWith(&model.User{ID: "user-alice"})
	m := newTestManager(store, users)

	st, _ := m.Load(ctx, "sess")
	for i := 0; i < 3; i++ {
		if _, err := st.CurrentUser(ctx); err != nil {
			t.Fatalf("CurrentUser() error = %v", err)
		}
	}
	if _, err := st.IsAuthenticated(ctx); err != nil {
		t.Fatalf("IsAuthenticated() error = %v", err)
	}

	if users.calls != 1 {
		t.Errorf("user store queried %d times, want 1", users.calls)
	}
}

func TestCurrentUser_DeletedUserIsNil(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	_ = store.Save(ctx, &model.Session{ID: "sess", UserID: "gone", ExpiresAt: time.Now().Add(time.Hour)})
	m := newTestManager(store, usersWith())

	st, _ := m.Load(ctx, "sess")
	user, err := st.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user != nil {
		t.Errorf("CurrentUser() = %+v, want nil", user)
	}
	if ok, _ := st.IsAuthenticated(ctx); ok {
		t.Error("session pointing at a missing user must be unauthenticated")
	}
}

func TestCurrentUser_StoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	_ = store.Save(ctx, &model.Session{ID: "sess", UserID: "u", ExpiresAt: time.Now().Add(time.Hour)})
	storeErr := errors.New("db down")
	m := newTestManager(store, &mockUserFinder{
		findByIDFn: func(context.Context, string) (*model.User, error) { return nil, storeErr },
	})

	st, _ := m.Load(ctx, "sess")
	if _, err := st.IsAuthenticated(ctx); !errors.Is(err, storeErr) {
		t.Errorf("IsAuthenticated() error = %v, want wrapped store error", err)
	}
}

func TestSetUser_RotatesPersistedToken(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	alice := &model.User{ID: "user-alice"}
	m := newTestManager(store, usersWith(alice))

	// フラッシュだけを持つ未認証セッションを保存
	st, _ := m.Load(ctx, "")
	st.AddFlash("hello")
	_ = m.Save(ctx, httptest.NewRecorder(), st)
	before := st.Token()

	st, _ = m.Load(ctx, before)
	if err := st.SetUser(alice); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
	w := httptest.NewRecorder()
	if err := m.Save(ctx, w, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if st.Token() == before {
		t.Fatal("token must change on SetUser")
	}
	if s, _ := store.FindByID(ctx, before); s != nil {
		t.Error("rotated-out session must be deleted")
	}
	if c := cookieFrom(t, w, DefaultCookieName); c == nil || c.Value != st.Token() {
		t.Errorf("cookie = %+v, want new token %q", c, st.Token())
	}
}

func TestSave_UnmodifiedStateWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	m := newTestManager(store, &mockUserFinder{})

	st, _ := m.Load(ctx, "")
	_, _ = st.IsAuthenticated(ctx)
	w := httptest.NewRecorder()
	if err := m.Save(ctx, w, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("store has %d sessions, want 0", store.Len())
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no cookie should be written for an unmodified session")
	}
}

func TestSave_ClearedSessionIsDeletedAndCookieExpired(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	alice := &model.User{ID: "user-alice"}
	m := newTestManager(store, usersWith(alice))

	st, _ := m.Load(ctx, "")
	_ = st.SetUser(alice)
	_ = m.Save(ctx, httptest.NewRecorder(), st)
	token := st.Token()

	st, _ = m.Load(ctx, token)
	st.Clear()
	w := httptest.NewRecorder()
	if err := m.Save(ctx, w, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if s, _ := store.FindByID(ctx, token); s != nil {
		t.Error("cleared session must be removed from the store")
	}
	c := cookieFrom(t, w, DefaultCookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie = %+v, want expired cookie", c)
	}
}

func TestClear_OnUnauthenticatedStateIsNoop(t *testing.T) {
	m := newTestManager(repository.NewMemorySessionRepo(), &mockUserFinder{})
	st, _ := m.Load(context.Background(), "")

	st.Clear()
	if st.Modified() {
		t.Error("Clear on an empty session must not mark it modified")
	}
}

func TestFlashes_AreReturnedOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	m := newTestManager(store, &mockUserFinder{})

	st, _ := m.Load(ctx, "")
	st.AddFlash("Invalid username or password")
	w := httptest.NewRecorder()
	_ = m.Save(ctx, w, st)
	token := cookieFrom(t, w, DefaultCookieName).Value

	st, _ = m.Load(ctx, token)
	msgs := st.Flashes()
	if len(msgs) != 1 || msgs[0] != "Invalid username or password" {
		t.Fatalf("Flashes() = %v", msgs)
	}
	_ = m.Save(ctx, httptest.NewRecorder(), st)

	st, _ = m.Load(ctx, token)
	if msgs := st.Flashes(); len(msgs) != 0 {
		t.Errorf("Flashes() second read = %v, want none", msgs)
	}
}

func TestLoadRequest_ReadsCookie(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemorySessionRepo()
	_ = store.Save(ctx, &model.Session{ID: "sess", UserID: "u", ExpiresAt: time.Now().Add(time.Hour)})
	m := newTestManager(store, &mockUserFinder{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "sess"})

	st, err := m.LoadRequest(req)
	if err != nil {
		t.Fatalf("LoadRequest() error = %v", err)
	}
	if st.UserID() != "u" {
		t.Errorf("UserID() = %q, want u", st.UserID())
	}
}

func TestContext_RoundTrip(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("FromContext on empty context should be nil")
	}
	st := &State{}
	if got := FromContext(NewContext(context.Background(), st)); got != st {
		t.Error("FromContext did not return the stored state")
	}
}

type failingStore struct{ err error }

func (f *failingStore) FindByID(context.Context, string) (*model.Session, error) { return nil, f.err }
func (f *failingStore) Save(context.Context, *model.Session) error               { return f.err }
func (f *failingStore) DeleteByID(context.Context, string) error                 { return f.err }
