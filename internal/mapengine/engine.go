package mapengine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"miharashi/internal/camera"
	"miharashi/internal/geo"
	"miharashi/internal/marker"
)

// デフォルトの地図設定（Banda Aceh中心）
var DefaultCenter = geo.Coordinate{Lat: 5.5526, Lng: 95.3162}

const (
	DefaultZoom = 12  // 初期ズームレベル
	FocusZoom   = 16  // カメラフォーカス時の固定ズームレベル
	MinZoom     = 1   // ズームの下限
	MaxZoom     = 19  // ズームの上限（OSMタイルの上限）
	tileSize    = 256 // Web Mercatorの標準タイルサイズ
)

// EventType は地図イベントの種別
type EventType string

const (
	// EventCameraSelected はカメラマーカーの選択を表す
	EventCameraSelected EventType = "cameraSelected"
	// EventCoordinateSelected は配置モードでの座標確定を表す
	EventCoordinateSelected EventType = "coordinateSelected"
)

// Event は地図からの型付きイベント
type Event struct {
	Type      EventType      `json:"type"`
	Camera    camera.Camera  `json:"camera,omitempty"`    // EventCameraSelected
	Coord     geo.Coordinate `json:"coord,omitempty"`     // EventCoordinateSelected
	PlaceName string         `json:"placeName,omitempty"` // EventCoordinateSelected
}

// Viewport は地図の表示領域を表す
type Viewport struct {
	Center geo.Coordinate `json:"center"`
	Zoom   int            `json:"zoom"`
}

// Config はEngineの動作設定
type Config struct {
	// Center / Zoom は初期表示のビューポート
	Center geo.Coordinate
	Zoom   int

	// ClickToleranceDeg は閲覧モードのクリックをマーカーに解決する許容範囲（度）
	ClickToleranceDeg float64
	// FocusToleranceDeg はフォーカス後のマーカー再検索の許容範囲（度）
	FocusToleranceDeg float64
	// FocusSettleDelay はフォーカス後にポップアップを開くまでの整定待ち時間
	FocusSettleDelay time.Duration
	// FitPaddingPx はFitAll時の余白（ピクセル）
	FitPaddingPx float64
	// ViewportWidthPx / ViewportHeightPx はFitAllのズーム計算に使う画面サイズ
	ViewportWidthPx  float64
	ViewportHeightPx float64
}

// DefaultConfig はデフォルトの動作設定を返す
func DefaultConfig() Config {
	return Config{
		Center:            DefaultCenter,
		Zoom:              DefaultZoom,
		ClickToleranceDeg: 0.0005,
		FocusToleranceDeg: 0.0001,
		FocusSettleDelay:  time.Second,
		FitPaddingPx:      20,
		ViewportWidthPx:   800,
		ViewportHeightPx:  600,
	}
}

// Engine は地図ビューポートとマーカー・イベントの統合を担う
type Engine struct {
	markers  *marker.Set
	resolver geo.Resolver
	logger   zerolog.Logger
	cfg      Config

	mu            sync.Mutex
	viewport      Viewport
	placementMode bool
	closed        bool

	// 逆ジオコーディングの世代管理
	geoGen    uint64
	geoCancel context.CancelFunc

	// フォーカス整定タイマー（高々1つ）
	focusTimer *time.Timer

	events chan Event
	wg     sync.WaitGroup
}

// NewEngine は新しいEngineを作成する
func NewEngine(markers *marker.Set, resolver geo.Resolver, logger zerolog.Logger, cfg Config) *Engine {
	if cfg.Zoom < MinZoom || cfg.Zoom > MaxZoom {
		cfg.Center = DefaultCenter
		cfg.Zoom = DefaultZoom
	}
	return &Engine{
		markers:  markers,
		resolver: resolver,
		logger:   logger,
		cfg:      cfg,
		viewport: Viewport{Center: cfg.Center, Zoom: cfg.Zoom},
		events:   make(chan Event, 16),
	}
}

// Events は地図イベントの受信チャンネルを返す
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Markers はマーカーセットを返す
func (e *Engine) Markers() *marker.Set {
	return e.markers
}

// Viewport は現在のビューポートを返す
func (e *Engine) Viewport() Viewport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewport
}

// Synchronize はカメラスナップショットをマーカーへ反映する
func (e *Engine) Synchronize(snapshot *camera.Snapshot) {
	e.markers.Synchronize(snapshot.Cameras())
}

// SetPlacementMode は配置モードを切り替える
// 配置モードを抜けるとき、配置マーカーと未完了のルックアップは破棄される
func (e *Engine) SetPlacementMode(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.placementMode == enabled {
		return
	}
	e.placementMode = enabled

	if !enabled {
		e.markers.SetPlacement(nil)
		e.supersedeGeoLocked()
	}
}

// PlacementMode は配置モードかどうかを返す
func (e *Engine) PlacementMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placementMode
}

// Click は地図クリックを処理する
// 配置モード: 配置マーカーを即時に置き、地名解決後にcoordinateSelectedを発行する
// 閲覧モード: 近傍のカメラマーカーに解決された場合のみcameraSelectedを発行する
func (e *Engine) Click(coord geo.Coordinate) {
	if err := coord.Validate(); err != nil {
		e.logger.Warn().Err(err).Msg("不正な座標のクリックを無視します")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	if e.placementMode {
		// 楽観的に配置マーカーを置いてから地名を解決する
		e.markers.SetPlacement(&coord)

		gen := e.supersedeGeoLocked()
		ctx, cancel := context.WithCancel(context.Background())
		e.geoCancel = cancel

		e.wg.Add(1)
		go e.resolvePlacement(ctx, gen, coord)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// 閲覧モード: 空白地点のクリックは無視する
	m, found := e.markers.FindNearest(coord, e.cfg.ClickToleranceDeg)
	if !found {
		return
	}
	cam, ok := m.Camera()
	if !ok {
		return
	}

	m.OpenPopup()
	e.emit(Event{Type: EventCameraSelected, Camera: cam})
}

// SelectCamera はポップアップ内の選択操作を型付きイベントとして通知する
func (e *Engine) SelectCamera(cam camera.Camera) {
	e.emit(Event{Type: EventCameraSelected, Camera: cam})
}

// Focus はカメラの座標へビューポートを移動し、整定後にポップアップを開く
// 地図の外（サイドバー等）からの選択を視覚的に確認するために使う
func (e *Engine) Focus(cam camera.Camera) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.viewport = Viewport{Center: cam.Coordinate, Zoom: FocusZoom}

	// 前のフォーカスの整定タイマーを破棄する
	if e.focusTimer != nil {
		e.focusTimer.Stop()
	}

	coord := cam.Coordinate
	e.focusTimer = time.AfterFunc(e.cfg.FocusSettleDelay, func() {
		if m, found := e.markers.FindNearest(coord, e.cfg.FocusToleranceDeg); found {
			m.OpenPopup()
		}
	})
	e.mu.Unlock()
}

// FitAll は全カメラマーカーが収まるようにビューポートを再計算する
func (e *Engine) FitAll() {
	markers := e.markers.CameraMarkers()
	if len(markers) == 0 {
		return
	}

	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, m := range markers {
		coord := m.Coordinate()
		minLat = math.Min(minLat, coord.Lat)
		maxLat = math.Max(maxLat, coord.Lat)
		minLng = math.Min(minLng, coord.Lng)
		maxLng = math.Max(maxLng, coord.Lng)
	}

	center := geo.Coordinate{
		Lat: (minLat + maxLat) / 2,
		Lng: (minLng + maxLng) / 2,
	}
	zoom := e.fitZoom(maxLat-minLat, maxLng-minLng)

	e.mu.Lock()
	if !e.closed {
		e.viewport = Viewport{Center: center, Zoom: zoom}
	}
	e.mu.Unlock()
}

// Close は取得した全リソースを逆順で解放する
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true

	if e.focusTimer != nil {
		e.focusTimer.Stop()
		e.focusTimer = nil
	}
	e.supersedeGeoLocked()
	e.mu.Unlock()

	e.wg.Wait()
	close(e.events)
}

// supersedeGeoLocked は未完了のルックアップを追い越して無効化する（ロック済み前提）
// 戻り値は新しい世代番号
func (e *Engine) supersedeGeoLocked() uint64 {
	e.geoGen++
	if e.geoCancel != nil {
		e.geoCancel()
		e.geoCancel = nil
	}
	return e.geoGen
}

// resolvePlacement は地名を解決してcoordinateSelectedを発行する
// 世代が進んでいた場合、結果は適用されない
func (e *Engine) resolvePlacement(ctx context.Context, gen uint64, coord geo.Coordinate) {
	defer e.wg.Done()

	placeName := e.resolver.Resolve(ctx, coord)

	e.mu.Lock()
	defer e.mu.Unlock()

	// 完了時点の世代が発行時点と一致しない結果は捨てる
	if e.closed || gen != e.geoGen {
		return
	}

	ev := Event{Type: EventCoordinateSelected, Coord: coord, PlaceName: placeName}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn().Str("type", string(ev.Type)).Msg("イベントバッファが一杯のため破棄します")
	}
}

// emit はイベントを非ブロッキングで送出する
func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn().Str("type", string(ev.Type)).Msg("イベントバッファが一杯のため破棄します")
	}
	e.mu.Unlock()
}

// fitZoom は緯度・経度の広がりから収まる最大ズームレベルを求める
func (e *Engine) fitZoom(latSpan, lngSpan float64) int {
	usableW := e.cfg.ViewportWidthPx - 2*e.cfg.FitPaddingPx
	usableH := e.cfg.ViewportHeightPx - 2*e.cfg.FitPaddingPx
	if usableW <= 0 || usableH <= 0 {
		return DefaultZoom
	}

	zoom := MaxZoom
	for ; zoom > MinZoom; zoom-- {
		worldPx := float64(tileSize) * math.Pow(2, float64(zoom))
		spanWpx := lngSpan / 360 * worldPx
		spanHpx := latSpan / 180 * worldPx
		if spanWpx <= usableW && spanHpx <= usableH {
			break
		}
	}
	return zoom
}
