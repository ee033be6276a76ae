package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"miharashi/internal/geo"
)

// Directory はカメラ一覧の取得を担うインターフェース
type Directory interface {
	// FetchCameras は外部サービスから現在のカメラ一覧を取得する
	FetchCameras(ctx context.Context) (*Snapshot, error)
}

// cameraRecord はディレクトリサービスのレスポンスレコード
type cameraRecord struct {
	ID        string  `json:"_id"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	StreamURL string  `json:"streamUrl"`
	IsActive  bool    `json:"is_active"`
}

// camerasResponse はGET /api/camerasのレスポンスボディ
type camerasResponse struct {
	Cameras []cameraRecord `json:"cameras"`
}

// HTTPDirectory はHTTP経由のDirectory実装
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Snapshot]
	logger  zerolog.Logger
}

// NewHTTPDirectory は新しいHTTPDirectoryを作成する
func NewHTTPDirectory(baseURL string, logger zerolog.Logger) *HTTPDirectory {
	d := &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}

	d.breaker = gobreaker.NewCircuitBreaker[*Snapshot](gobreaker.Settings{
		Name:    "camera-directory",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return d
}

// FetchCameras はディレクトリサービスからカメラ一覧を取得する
func (d *HTTPDirectory) FetchCameras(ctx context.Context) (*Snapshot, error) {
	return d.breaker.Execute(func() (*Snapshot, error) {
		return d.fetch(ctx)
	})
}

// fetch は実際のHTTPリクエストを発行してスナップショットを構築する
func (d *HTTPDirectory) fetch(ctx context.Context) (*Snapshot, error) {
	reqURL := d.baseURL + "/api/cameras"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("カメラ一覧の取得に失敗: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("カメラ一覧の取得が異常ステータスを返しました: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}

	// レコードは配列直置きと {"cameras": [...]} の両形式を受け付ける
	var records []cameraRecord
	if err := json.Unmarshal(body, &records); err != nil {
		var wrapped camerasResponse
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("レスポンスの解析に失敗: %w", err)
		}
		records = wrapped.Cameras
	}

	cameras := make([]Camera, 0, len(records))
	for _, rec := range records {
		coord, err := geo.NewCoordinate(rec.Latitude, rec.Longitude)
		if err != nil {
			// 不正な座標のレコードは捨てて残りを維持する
			d.logger.Warn().
				Str("camera_id", rec.ID).
				Err(err).
				Msg("不正な座標のカメラレコードをスキップします")
			continue
		}

		status := StatusOffline
		if rec.IsActive {
			status = StatusOnline
		}

		cameras = append(cameras, Camera{
			ID:             rec.ID,
			Name:           rec.Name,
			Location:       rec.Location,
			Coordinate:     coord,
			StreamEndpoint: rec.StreamURL,
			Status:         status,
		})
	}

	return NewSnapshot(cameras), nil
}

// MockDirectory はテスト用のモックDirectory実装
type MockDirectory struct {
	mu       sync.Mutex
	snapshot *Snapshot
	err      error
}

// NewMockDirectory は新しいMockDirectoryを作成する
func NewMockDirectory(cameras []Camera) *MockDirectory {
	return &MockDirectory{snapshot: NewSnapshot(cameras)}
}

// FetchCameras は設定済みのスナップショットを返す
func (m *MockDirectory) FetchCameras(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

// SetCameras は次回以降の取得結果を置き換える
func (m *MockDirectory) SetCameras(cameras []Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = NewSnapshot(cameras)
}

// SetError は取得を失敗させる
func (m *MockDirectory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
