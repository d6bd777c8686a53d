package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn               func(ctx context.Context, id string) (*model.User, error)
	findByUsernameFn         func(ctx context.Context, username string) (*model.User, error)
	findByProviderIdentityFn func(ctx context.Context, provider, externalUID string) (*model.User, error)
	createFn                 func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByProviderIdentity(ctx context.Context, provider, externalUID string) (*model.User, error) {
	if m.findByProviderIdentityFn != nil {
		return m.findByProviderIdentityFn(ctx, provider, externalUID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

// recordingMetrics は照合結果のラベルを記録するMetricsCollector。
type recordingMetrics struct {
	metrics.Nop
	mu         sync.Mutex
	reconciles []string
}

func (m *recordingMetrics) RecordReconcile(provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles = append(m.reconciles, provider+":"+outcome)
}

func (m *recordingMetrics) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reconciles...)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ metrics.MetricsCollector = (*recordingMetrics)(nil)

// newTestHasher はテスト用に最小コストのハッシャーを返す。
func newTestHasher() *BcryptHasher {
	return NewBcryptHasher(bcrypt.MinCost)
}

// fixedNow はテスト用の固定時刻。
var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
