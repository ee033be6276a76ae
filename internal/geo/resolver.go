package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

// DefaultNominatimBaseURL はNominatim APIのデフォルトベースURL
const DefaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// Resolver は座標から地名を解決するインターフェース
type Resolver interface {
	// Resolve は座標を人間可読な地名に解決する
	// 失敗時もフォールバックラベルを返すため、エラーは返さない
	Resolve(ctx context.Context, coord Coordinate) string
}

// nominatimAddress はNominatimレスポンスの住所要素
// 欠けているフィールドは空文字列のまま扱われる
type nominatimAddress struct {
	Road    string `json:"road"`
	Suburb  string `json:"suburb"`
	Village string `json:"village"`
	Town    string `json:"town"`
	City    string `json:"city"`
	State   string `json:"state"`
}

// nominatimResponse はNominatim逆ジオコーディングのレスポンス
type nominatimResponse struct {
	Address nominatimAddress `json:"address"`
}

// NominatimResolver はNominatim APIを使ったResolver実装
type NominatimResolver struct {
	baseURL  string
	language string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[string]
}

// NominatimOption はNominatimResolverのオプション設定関数
type NominatimOption func(*NominatimResolver)

// WithBaseURL はベースURLを上書きする（テスト用途を含む）
func WithBaseURL(baseURL string) NominatimOption {
	return func(r *NominatimResolver) {
		r.baseURL = baseURL
	}
}

// WithLanguage はaccept-languageパラメータを設定する
func WithLanguage(lang string) NominatimOption {
	return func(r *NominatimResolver) {
		r.language = lang
	}
}

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(client *http.Client) NominatimOption {
	return func(r *NominatimResolver) {
		r.client = client
	}
}

// NewNominatimResolver は新しいNominatimResolverを作成する
func NewNominatimResolver(opts ...NominatimOption) *NominatimResolver {
	r := &NominatimResolver{
		baseURL:  DefaultNominatimBaseURL,
		language: "id",
		client:   &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(r)
	}

	// 外部サービス障害時に無駄な呼び出しを止めるサーキットブレーカー
	// 開いている間もResolveはフォールバックラベルを返し続ける
	r.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "nominatim",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return r
}

// Resolve は座標を地名に解決する
// 住所要素を road → suburb/village → town/city → state の優先順で採用し
// ", " で連結する。何も得られない場合はフォールバックラベルを返す
func (r *NominatimResolver) Resolve(ctx context.Context, coord Coordinate) string {
	name, err := r.breaker.Execute(func() (string, error) {
		return r.lookup(ctx, coord)
	})
	if err != nil || name == "" {
		// 失敗の種類に関わらず常にフォールバックに解決する
		return FallbackLabel(coord)
	}
	return name
}

// lookup は実際のHTTPリクエストを発行してレスポンスを解析する
func (r *NominatimResolver) lookup(ctx context.Context, coord Coordinate) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", coord.Lat))
	q.Set("lon", fmt.Sprintf("%f", coord.Lng))
	q.Set("addressdetails", "1")
	q.Set("accept-language", r.language)

	reqURL := fmt.Sprintf("%s/reverse?%s", r.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("逆ジオコーディングの呼び出しに失敗: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("逆ジオコーディングが異常ステータスを返しました: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}

	var parsed nominatimResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("レスポンスの解析に失敗: %w", err)
	}

	return labelFromAddress(parsed.Address), nil
}

// labelFromAddress は住所要素から優先順で地名ラベルを組み立てる
// 要素が1つも無い場合は空文字列を返す
func labelFromAddress(addr nominatimAddress) string {
	parts := make([]string, 0, 4)

	if addr.Road != "" {
		parts = append(parts, addr.Road)
	}
	if addr.Suburb != "" {
		parts = append(parts, addr.Suburb)
	} else if addr.Village != "" {
		parts = append(parts, addr.Village)
	}
	if addr.Town != "" {
		parts = append(parts, addr.Town)
	} else if addr.City != "" {
		parts = append(parts, addr.City)
	}
	if addr.State != "" {
		parts = append(parts, addr.State)
	}

	if len(parts) == 0 {
		return ""
	}

	label := parts[0]
	for _, p := range parts[1:] {
		label += ", " + p
	}
	return label
}

// MockResolver はテスト用のモックResolver実装
type MockResolver struct {
	mu sync.Mutex

	// Name は解決結果として返す地名（空ならフォールバック）
	Name string
	// Delay は解決にかかる遅延（スーパーシード試験用）
	Delay time.Duration

	calls []Coordinate
}

// Resolve はモックの解決結果を返す
func (m *MockResolver) Resolve(ctx context.Context, coord Coordinate) string {
	m.mu.Lock()
	m.calls = append(m.calls, coord)
	name := m.Name
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return FallbackLabel(coord)
		}
	}

	if name == "" {
		return FallbackLabel(coord)
	}
	return name
}

// Calls は呼び出された座標の履歴を返す
func (m *MockResolver) Calls() []Coordinate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Coordinate, len(m.calls))
	copy(out, m.calls)
	return out
}
