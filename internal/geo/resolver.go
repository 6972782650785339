// Package geo はIPアドレスと大まかな位置情報（ClientContext）の解決を提供する。
//
// 解決に失敗しても呼び出し元にエラーを返さず、全フィールドが "unknown" の
// 番兵値を返す。位置情報が取れないことでアカウント操作を止めないため。
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hitoshi/clientalio/internal/metrics"
	"github.com/hitoshi/clientalio/internal/model"
)

const (
	// defaultEndpoint はipapi.coのJSONエンドポイント。
	defaultEndpoint = "https://ipapi.co/json/"
	// maxBodySize はレスポンスボディの読み取り上限。
	maxBodySize = 64 * 1024
)

// ContextResolver はClientContextを解決するインターフェース。
type ContextResolver interface {
	Resolve(ctx context.Context) model.ClientContext
}

// lookupResponse はipapi.coのレスポンスのうち使用するフィールド。
type lookupResponse struct {
	IP          string   `json:"ip"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
	CountryName string   `json:"country_name"`
	CountryCode string   `json:"country_code"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Timezone    string   `json:"timezone"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

// Resolver は外部のIP位置情報サービスを使ってClientContextを解決する。
type Resolver struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewResolver はResolverを生成する。endpointが空の場合はipapi.coを使用する。
func NewResolver(httpClient *http.Client, endpoint string, logger *slog.Logger, mc metrics.MetricsCollector) *Resolver {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Resolver{
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		endpoint:   endpoint,
	}
}

// Resolve は位置情報サービスに問い合わせてClientContextを返す。
// 通信失敗・非200・不正なJSONのいずれでも番兵値を返し、Warnログのみ出力する。
func (r *Resolver) Resolve(ctx context.Context) model.ClientContext {
	cc, err := r.lookup(ctx)
	if err != nil {
		r.logger.Warn("client context lookup failed, using unknown sentinel",
			slog.String("error", err.Error()),
		)
		r.metrics.RecordGeoFallback()
		return model.UnknownClientContext()
	}
	return cc
}

func (r *Resolver) lookup(ctx context.Context) (model.ClientContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return model.ClientContext{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "clientalio/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return model.ClientContext{}, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ClientContext{}, fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.ClientContext{}, fmt.Errorf("failed to read lookup response: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return model.ClientContext{}, fmt.Errorf("lookup returned empty body")
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return model.ClientContext{}, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if lr.Error {
		return model.ClientContext{}, fmt.Errorf("lookup service error: %s", lr.Reason)
	}

	return lr.toClientContext(), nil
}

// toClientContext は欠けた文字列フィールドを番兵値で埋めて変換する。
func (lr lookupResponse) toClientContext() model.ClientContext {
	cc := model.ClientContext{
		IP:          orUnknown(lr.IP),
		City:        orUnknown(lr.City),
		Region:      orUnknown(lr.Region),
		Country:     orUnknown(lr.CountryName),
		CountryCode: orUnknown(strings.ToUpper(lr.CountryCode)),
		Timezone:    orUnknown(lr.Timezone),
	}
	if lr.Latitude != nil {
		cc.Latitude = *lr.Latitude
	}
	if lr.Longitude != nil {
		cc.Longitude = *lr.Longitude
	}
	return cc
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return model.Unknown
	}
	return v
}

// RequiresChallenge は解決した国コードがホーム国と異なる場合に true を返す。
// 国コードが不明な場合もチャレンジが必要となる。
func RequiresChallenge(cc model.ClientContext, homeCountryCode string) bool {
	return !strings.EqualFold(cc.CountryCode, homeCountryCode)
}

// CachedResolver は1つのフロー内で最初の解決結果を使い回す。
// 永続化はしないため、新しいフローでは新しいCachedResolverを作る。
type CachedResolver struct {
	inner ContextResolver

	mu       sync.Mutex
	resolved bool
	value    model.ClientContext
}

// NewCachedResolver はCachedResolverを生成する。
func NewCachedResolver(inner ContextResolver) *CachedResolver {
	return &CachedResolver{inner: inner}
}

// Resolve は解決済みの値があればそれを返し、無ければ内側のResolverで解決する。
// 同時に呼ばれた場合は重複して解決することがあるが、いずれも完全な値を返す。
func (c *CachedResolver) Resolve(ctx context.Context) model.ClientContext {
	c.mu.Lock()
	if c.resolved {
		v := c.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := c.inner.Resolve(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		c.value = v
		c.resolved = true
	}
	return c.value
}

// Reset はキャッシュを破棄する。
func (c *CachedResolver) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = false
	c.value = model.ClientContext{}
}

var (
	_ ContextResolver = (*Resolver)(nil)
	_ ContextResolver = (*CachedResolver)(nil)
)
