package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/security"
)

// ErrUnknownProvider は登録されていないIdPが指定された場合のエラー。
var ErrUnknownProvider = errors.New("unknown identity provider")

// Options はRegistryの生成オプション。
type Options struct {
	// HTTPClient はIdPとの通信に使うクライアント。nilの場合はSSRF防止クライアントを生成する。
	HTTPClient *http.Client
	// Timeout はHTTPClientがnilの場合に生成するクライアントのタイムアウト。
	Timeout   time.Duration
	Guard     security.SSRFGuardService
	Sanitizer security.TextSanitizerService
	Metrics   metrics.MetricsCollector
}

// Registry は起動時に構築される、利用可能なIdPの一覧。
// 構築後は読み取り専用のため、複数のgoroutineから安全に使用できる。
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry は設定からRegistryを構築する。
// Guardが指定されている場合は各エンドポイントURLを事前に検証する。
func NewRegistry(configs []ProviderConfig, opts Options) (*Registry, error) {
	if opts.Sanitizer == nil {
		opts.Sanitizer = security.NewTextSanitizer()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	client := opts.HTTPClient
	if client == nil {
		guard := opts.Guard
		if guard == nil {
			guard = security.NewEndpointGuard()
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = guard.NewSafeClient(timeout)
	}

	r := &Registry{providers: make(map[string]*Provider, len(configs))}
	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, errors.New("provider name is required")
		}
		if _, dup := r.providers[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate provider: %s", cfg.Name)
		}
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("provider %s: client id and secret are required", cfg.Name)
		}
		decode, ok := profileDecoders[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, ErrUnknownProvider)
		}
		if opts.Guard != nil {
			endpoints := []string{cfg.TokenURL, cfg.UserInfoURL}
			if cfg.EmailsURL != "" {
				endpoints = append(endpoints, cfg.EmailsURL)
			}
			for _, u := range endpoints {
				if err := opts.Guard.ValidateURL(u); err != nil {
					return nil, fmt.Errorf("provider %s: invalid endpoint: %w", cfg.Name, err)
				}
			}
		}
		if cfg.DisplayName == "" {
			cfg.DisplayName = cfg.Name
		}

		r.providers[cfg.Name] = &Provider{
			config:    cfg,
			oauth:     cfg.oauth2Config(),
			decode:    decode,
			client:    client,
			sanitizer: opts.Sanitizer,
			metrics:   opts.Metrics,
		}
	}
	return r, nil
}

// Get は指定名のIdPを返す。
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// Providers は登録済みのIdPを名前順で返す。
func (r *Registry) Providers() []*Provider {
	list := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].config.Name < list[j].config.Name })
	return list
}

// Len は登録済みのIdP数を返す。
func (r *Registry) Len() int {
	return len(r.providers)
}
