package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"miharashi/internal/camera"
	"miharashi/internal/config"
	"miharashi/internal/coordinator"
	"miharashi/internal/geo"
	"miharashi/internal/mapengine"
	"miharashi/internal/marker"
	"miharashi/internal/stream"
)

// fixture はサーバーの結合テスト用の一式
type fixture struct {
	server  *Server
	ts      *httptest.Server
	factory *stream.MockEngineFactory
}

func newFixture(t *testing.T, cameras []camera.Camera) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"

	directory := camera.NewMockDirectory(cameras)
	manager := camera.NewDefaultManager(directory, 0, zerolog.Nop())
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	engineCfg := mapengine.DefaultConfig()
	engineCfg.FocusSettleDelay = 5 * time.Millisecond
	mapEngine := mapengine.NewEngine(marker.NewSet(), &geo.MockResolver{Name: "Jl. A, Banda Aceh"}, zerolog.Nop(), engineCfg)

	factory := &stream.MockEngineFactory{}
	coord := coordinator.New(manager, mapEngine, factory, zerolog.Nop())
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	srv := New(cfg, manager, mapEngine, coord, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = coord.Stop(context.Background())
		mapEngine.Close()
		_ = manager.Stop(context.Background())
	})

	return &fixture{server: srv, ts: ts, factory: factory}
}

func testCamera(id string, status camera.Status) camera.Camera {
	return camera.Camera{
		ID:             id,
		Name:           "カメラ " + id,
		Location:       "Banda Aceh",
		Coordinate:     geo.Coordinate{Lat: 5.5526, Lng: 95.3162},
		StreamEndpoint: "http://origin.example/" + id + "/index.m3u8",
		Status:         status,
	}
}

func (f *fixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("リクエストのエンコードに失敗しました: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("リクエストの作成に失敗しました: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
}

// TestServerEndpoints は各エンドポイントの疎通をテストする
func TestServerEndpoints(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK},
		{"ステータスエンドポイント", "/api/status", http.StatusOK},
		{"カメラ一覧エンドポイント", "/api/cameras", http.StatusOK},
		{"地図エンドポイント", "/api/map", http.StatusOK},
		{"セッションエンドポイント", "/api/session", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.request(t, http.MethodGet, tc.endpoint, nil)
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d",
					resp.StatusCode, tc.expectedStatus)
			}
		})
	}
}

// TestCamerasEndpoint はカメラ一覧の内容をテストする
func TestCamerasEndpoint(t *testing.T) {
	f := newFixture(t, []camera.Camera{
		testCamera("a", camera.StatusOnline),
		testCamera("b", camera.StatusOffline),
	})

	var body struct {
		Cameras []camera.Camera `json:"cameras"`
	}
	decodeBody(t, f.request(t, http.MethodGet, "/api/cameras", nil), &body)

	if len(body.Cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(body.Cameras))
	}
	if body.Cameras[0].ID != "a" || body.Cameras[1].Status != camera.StatusOffline {
		t.Errorf("カメラ一覧の内容が違う: %+v", body.Cameras)
	}
}

// TestSelectAndSessionControls は選択から再生操作までをテストする
func TestSelectAndSessionControls(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})

	// 存在しないカメラ
	resp := f.request(t, http.MethodPost, "/api/cameras/missing/select", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	// 選択で視聴が始まる
	var st coordinator.Status
	decodeBody(t, f.request(t, http.MethodPost, "/api/cameras/a/select", nil), &st)
	if st.State != coordinator.StateViewing || st.Session.State != stream.StateLoading {
		t.Fatalf("視聴が始まっていない: %+v", st)
	}

	// マニフェスト準備完了で再生へ
	f.factory.Engines()[0].Fire(stream.EngineEvent{Type: stream.EventManifestReady})
	waitForSessionState(t, f, stream.StatePlaying)

	// 一時停止
	var session stream.Status
	decodeBody(t, f.request(t, http.MethodPost, "/api/session/play", nil), &session)
	if session.State != stream.StatePaused {
		t.Errorf("Expected paused, got %s", session.State)
	}

	// 音量設定でミュートが解除される
	decodeBody(t, f.request(t, http.MethodPut, "/api/session/volume", map[string]float64{"volume": 0.8}), &session)
	if session.Volume != 0.8 || session.IsMuted {
		t.Errorf("音量設定が反映されていない: %+v", session)
	}

	// 視聴終了
	decodeBody(t, f.request(t, http.MethodDelete, "/api/selection", nil), &st)
	if st.State != coordinator.StateBrowsing || st.Session.State != stream.StateClosed {
		t.Errorf("視聴が終了していない: %+v", st)
	}

	// 閉じた後の再生操作は409
	resp = f.request(t, http.MethodPost, "/api/session/play", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
}

// TestMarkerSelectEndpoint はポップアップ経由のカメラ選択をテストする
func TestMarkerSelectEndpoint(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})

	// 存在しないカメラ
	resp := f.request(t, http.MethodPost, "/api/map/markers/missing/select", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	// 選択は受理され、地図イベント経由で視聴が始まる
	resp = f.request(t, http.MethodPost, "/api/map/markers/a/select", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	waitForSessionState(t, f, stream.StateLoading)

	var body struct {
		Coordinator coordinator.Status `json:"coordinator"`
	}
	decodeBody(t, f.request(t, http.MethodGet, "/api/status", nil), &body)
	if body.Coordinator.State != coordinator.StateViewing || body.Coordinator.ViewingID != "a" {
		t.Errorf("視聴へ遷移していない: %+v", body.Coordinator)
	}
}

// TestPlacementEndpoints は配置モードのエンドポイントをテストする
func TestPlacementEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	// 配置モードへ
	var st coordinator.Status
	decodeBody(t, f.request(t, http.MethodPut, "/api/mode", modeRequest{Placement: true}), &st)
	if st.State != coordinator.StatePlacing {
		t.Fatalf("Expected placing, got %s", st.State)
	}

	// クリックは受理され、配置マーカーが置かれる
	resp := f.request(t, http.MethodPost, "/api/map/click", coordinateRequest{Lat: 5.6, Lng: 95.4})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var mapBody struct {
		PlacementMode bool          `json:"placementMode"`
		Markers       []marker.View `json:"markers"`
	}
	decodeBody(t, f.request(t, http.MethodGet, "/api/map", nil), &mapBody)
	if !mapBody.PlacementMode {
		t.Error("配置モードになっていない")
	}
	if len(mapBody.Markers) != 1 || mapBody.Markers[0].Kind != marker.KindPlacement {
		t.Errorf("配置マーカーが置かれていない: %+v", mapBody.Markers)
	}

	// 座標の確定
	resp = f.request(t, http.MethodPost, "/api/placement/confirm", coordinateRequest{Lat: 5.6, Lng: 95.4})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

// TestClustersEndpoint はマーカークラスタ取得をテストする
func TestClustersEndpoint(t *testing.T) {
	near := testCamera("a", camera.StatusOnline)
	alsoNear := testCamera("b", camera.StatusOnline)
	alsoNear.Coordinate = geo.Coordinate{Lat: 5.5527, Lng: 95.3163}
	far := testCamera("c", camera.StatusOnline)
	far.Coordinate = geo.Coordinate{Lat: 5.9, Lng: 95.9}

	f := newFixture(t, []camera.Camera{near, alsoNear, far})

	var body struct {
		Zoom     int           `json:"zoom"`
		Clusters []clusterView `json:"clusters"`
	}
	decodeBody(t, f.request(t, http.MethodGet, "/api/map/clusters?zoom=10&radius=40", nil), &body)

	if body.Zoom != 10 {
		t.Errorf("Expected zoom 10, got %d", body.Zoom)
	}
	if len(body.Clusters) != 2 {
		t.Fatalf("Expected 2 clusters, got %d", len(body.Clusters))
	}

	// 不正なズームレベル
	resp := f.request(t, http.MethodGet, "/api/map/clusters?zoom=99", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

// TestInvalidRequests は不正なリクエストの処理をテストする
func TestInvalidRequests(t *testing.T) {
	f := newFixture(t, nil)

	testCases := []struct {
		name string
		path string
		body string
	}{
		{name: "不正なJSON", path: "/api/map/click", body: "{不正"},
		{name: "範囲外の座標", path: "/api/map/click", body: `{"lat": 100, "lng": 95.4}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(f.ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

// TestWebSocketBroadcast はイベントのWebSocket配信をテストする
func TestWebSocketBroadcast(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})

	// ハブとイベント転送を起動する（Startの内部と同じ構成）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.hub.Run(ctx)
	go f.server.forwardEvents(ctx)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket接続に失敗しました: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// 接続が登録されるまで待つ
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && f.server.hub.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	resp2 := f.request(t, http.MethodPost, "/api/cameras/a/select", nil)
	_ = resp2.Body.Close()

	// cameraSelectedが届くまで他のメッセージを読み飛ばす
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("メッセージの受信に失敗しました: %v", err)
		}
		if msg.Type == string(coordinator.EventCameraSelected) {
			break
		}
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 18084

	directory := camera.NewMockDirectory(nil)
	manager := camera.NewDefaultManager(directory, 0, zerolog.Nop())
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mapEngine := mapengine.NewEngine(marker.NewSet(), &geo.MockResolver{}, zerolog.Nop(), mapengine.DefaultConfig())
	coord := coordinator.New(manager, mapEngine, &stream.MockEngineFactory{}, zerolog.Nop())
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		_ = coord.Stop(context.Background())
		mapEngine.Close()
		_ = manager.Stop(context.Background())
	})

	srv := New(cfg, manager, mapEngine, coord, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// waitForSessionState はセッションが指定の状態になるまでポーリングする
func waitForSessionState(t *testing.T, f *fixture, expected stream.State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	var last stream.State
	for time.Now().Before(deadline) {
		var session stream.Status
		decodeBody(t, f.request(t, http.MethodGet, "/api/session", nil), &session)
		last = session.State
		if last == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("セッションが%sにならなかった: %s", expected, last)
}
