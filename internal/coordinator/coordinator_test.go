package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"miharashi/internal/camera"
	"miharashi/internal/geo"
	"miharashi/internal/mapengine"
	"miharashi/internal/marker"
	"miharashi/internal/stream"
)

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

// fixture はコーディネーターの結合テスト用の一式
type fixture struct {
	directory *camera.MockDirectory
	manager   *camera.DefaultManager
	engine    *mapengine.Engine
	factory   *stream.MockEngineFactory
	coord     *Coordinator
}

func newFixture(t *testing.T, cameras []camera.Camera, opts ...Option) *fixture {
	t.Helper()

	directory := camera.NewMockDirectory(cameras)
	manager := camera.NewDefaultManager(directory, 0, zerolog.Nop())
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cfg := mapengine.DefaultConfig()
	cfg.FocusSettleDelay = 5 * time.Millisecond
	engine := mapengine.NewEngine(marker.NewSet(), &geo.MockResolver{Name: "Jl. A, Banda Aceh"}, zerolog.Nop(), cfg)

	factory := &stream.MockEngineFactory{Journal: &stream.EngineJournal{}}
	coord := New(manager, engine, factory, zerolog.Nop(), opts...)
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	t.Cleanup(func() {
		_ = coord.Stop(context.Background())
		engine.Close()
		_ = manager.Stop(context.Background())
	})

	return &fixture{
		directory: directory,
		manager:   manager,
		engine:    engine,
		factory:   factory,
		coord:     coord,
	}
}

// waitFor は条件に合うイベントが届くまで他のイベントを読み飛ばす
func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("イベントチャンネルが閉じられた")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("期待したイベントが届かなかった")
			return Event{}
		}
	}
}

func sessionState(state stream.State) func(Event) bool {
	return func(ev Event) bool {
		return ev.Type == EventSessionStateChanged && ev.Session.State == state
	}
}

// TestCoordinator_SelectToPlayingToDismiss は選択から再生・終了までの一連をテストする
func TestCoordinator_SelectToPlayingToDismiss(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})
	events := f.coord.Events()

	if err := f.coord.SelectCamera("a"); err != nil {
		t.Fatalf("SelectCamera failed: %v", err)
	}

	// セッションのロード開始が先に通知され、その後に選択イベントが届く
	waitFor(t, events, sessionState(stream.StateLoading))
	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventCameraSelected })
	if ev.Camera.ID != "a" {
		t.Errorf("Expected camera a, got %s", ev.Camera.ID)
	}

	if st := f.coord.Status(); st.State != StateViewing || st.ViewingID != "a" {
		t.Errorf("Viewing状態になっていない: %+v", st)
	}

	// マニフェスト準備完了で再生が始まる
	f.factory.Engines()[0].Fire(stream.EngineEvent{Type: stream.EventManifestReady})
	waitFor(t, events, sessionState(stream.StatePlaying))

	f.coord.Dismiss()
	waitFor(t, events, sessionState(stream.StateClosed))
	waitFor(t, events, func(ev Event) bool {
		return ev.Type == EventModeChanged && ev.State == StateBrowsing
	})

	if !f.factory.Engines()[0].IsDetached() {
		t.Error("終了後もエンジンが解放されていない")
	}
	if st := f.coord.Status(); st.State != StateBrowsing || st.ViewingID != "" {
		t.Errorf("Browsingに戻っていない: %+v", st)
	}
}

// TestCoordinator_OfflineCamera はオフラインカメラの選択をテストする
func TestCoordinator_OfflineCamera(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOffline)})
	events := f.coord.Events()

	if err := f.coord.SelectCamera("a"); err != nil {
		t.Fatalf("SelectCamera failed: %v", err)
	}

	// Loadingを経ずにOfflineへ遷移し、エンジンは作られない
	waitFor(t, events, sessionState(stream.StateOffline))
	if n := len(f.factory.Engines()); n != 0 {
		t.Errorf("オフラインカメラでエンジンが作られた: %d", n)
	}
	if st := f.coord.Status(); st.State != StateViewing {
		t.Errorf("Expected viewing, got %s", st.State)
	}
}

// TestCoordinator_SelectUnknownCamera は存在しないIDの選択をテストする
func TestCoordinator_SelectUnknownCamera(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})

	if err := f.coord.SelectCamera("missing"); err == nil {
		t.Error("存在しないカメラの選択がエラーにならなかった")
	}
	if st := f.coord.Status(); st.State != StateBrowsing {
		t.Errorf("Expected browsing, got %s", st.State)
	}
}

// TestCoordinator_PlacementFlow は配置モードの一連の流れをテストする
func TestCoordinator_PlacementFlow(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})
	events := f.coord.Events()

	// 視聴中に配置モードへ入るとセッションが先に閉じる
	if err := f.coord.SelectCamera("a"); err != nil {
		t.Fatalf("SelectCamera failed: %v", err)
	}
	waitFor(t, events, sessionState(stream.StateLoading))

	f.coord.SetPlacementMode(true, false)
	waitFor(t, events, sessionState(stream.StateClosed))
	waitFor(t, events, func(ev Event) bool {
		return ev.Type == EventModeChanged && ev.State == StatePlacing
	})

	// 配置モード中のクリックは座標確定イベントになる
	coord := geo.Coordinate{Lat: 5.6, Lng: 95.4}
	f.coord.Click(coord)

	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventCoordinateSelected })
	if ev.Coord != coord {
		t.Errorf("Expected coord %v, got %v", coord, ev.Coord)
	}
	if ev.PlaceName != "Jl. A, Banda Aceh" {
		t.Errorf("Expected place name, got %q", ev.PlaceName)
	}
	if !ev.Autofill {
		t.Error("新規作成の配置で自動入力が無効になっている")
	}

	// 座標の確定は選択マーカーとして記録される
	if err := f.coord.ConfirmCoordinate(coord); err != nil {
		t.Fatalf("ConfirmCoordinate failed: %v", err)
	}
	if f.engine.Markers().Selection() == nil {
		t.Error("選択マーカーが置かれていない")
	}

	// 配置モードを抜けると配置マーカーは消える
	f.coord.SetPlacementMode(false, false)
	waitFor(t, events, func(ev Event) bool {
		return ev.Type == EventModeChanged && ev.State == StateBrowsing
	})
	if f.engine.Markers().Placement() != nil {
		t.Error("配置マーカーが除去されていない")
	}
}

// TestCoordinator_AutofillOnReplacePolicy は再配置時の自動入力ポリシーをテストする
func TestCoordinator_AutofillOnReplacePolicy(t *testing.T) {
	testCases := []struct {
		name     string
		opts     []Option
		editing  bool
		expected bool
	}{
		{name: "新規作成は常に自動入力", editing: false, expected: true},
		{name: "再配置はデフォルトで自動入力しない", editing: true, expected: false},
		{
			name:     "フラグ有効なら再配置も自動入力",
			opts:     []Option{WithAutofillOnReplace(true)},
			editing:  true,
			expected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, tc.opts...)
			events := f.coord.Events()

			f.coord.SetPlacementMode(true, tc.editing)
			f.coord.Click(geo.Coordinate{Lat: 5.6, Lng: 95.4})

			ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventCoordinateSelected })
			if ev.Autofill != tc.expected {
				t.Errorf("Expected autofill %v, got %v", tc.expected, ev.Autofill)
			}
		})
	}
}

// TestCoordinator_CameraSelectionIgnoredWhilePlacing は配置中の選択無視をテストする
func TestCoordinator_CameraSelectionIgnoredWhilePlacing(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})

	f.coord.SetPlacementMode(true, false)

	// 配置中は地図エンジンのクリックも配置として処理されるため、
	// サイドバー相当の直接選択で検証する
	cam, _ := f.manager.Snapshot().Get("a")
	f.coord.viewCamera(cam)

	if st := f.coord.Status(); st.State != StatePlacing {
		t.Errorf("配置中の選択で状態が変わった: %s", st.State)
	}
	if n := len(f.factory.Engines()); n != 0 {
		t.Errorf("配置中の選択でセッションが開かれた: %d", n)
	}
}

// TestCoordinator_SnapshotRemovesViewingCamera は視聴中カメラ消失時の強制遷移をテストする
func TestCoordinator_SnapshotRemovesViewingCamera(t *testing.T) {
	f := newFixture(t, []camera.Camera{
		testCamera("a", camera.StatusOnline),
		testCamera("b", camera.StatusOnline),
	})
	events := f.coord.Events()

	if err := f.coord.SelectCamera("a"); err != nil {
		t.Fatalf("SelectCamera failed: %v", err)
	}
	waitFor(t, events, sessionState(stream.StateLoading))

	// コレクション置き換えで視聴中のaが消える
	f.directory.SetCameras([]camera.Camera{testCamera("b", camera.StatusOnline)})
	if err := f.manager.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	waitFor(t, events, sessionState(stream.StateClosed))
	waitFor(t, events, func(ev Event) bool {
		return ev.Type == EventModeChanged && ev.State == StateBrowsing
	})

	if st := f.coord.Status(); st.State != StateBrowsing || st.ViewingID != "" {
		t.Errorf("強制的にBrowsingへ戻っていない: %+v", st)
	}

	// マーカーも置き換え後のコレクションと一致する
	if _, found := f.engine.Markers().Get("a"); found {
		t.Error("消えたカメラのマーカーが残っている")
	}
	if _, found := f.engine.Markers().Get("b"); !found {
		t.Error("残っているカメラのマーカーが消えた")
	}
}

// TestCoordinator_SurvivingCameraKeepsSession はコレクション置き換え後も視聴が続くことをテストする
func TestCoordinator_SurvivingCameraKeepsSession(t *testing.T) {
	f := newFixture(t, []camera.Camera{
		testCamera("a", camera.StatusOnline),
		testCamera("b", camera.StatusOnline),
	})
	events := f.coord.Events()

	if err := f.coord.SelectCamera("a"); err != nil {
		t.Fatalf("SelectCamera failed: %v", err)
	}
	waitFor(t, events, sessionState(stream.StateLoading))
	waitFor(t, events, func(ev Event) bool { return ev.Type == EventCameraSelected })

	// 視聴中のaは残るのでセッションは維持される
	f.directory.SetCameras([]camera.Camera{testCamera("a", camera.StatusOnline)})
	if err := f.manager.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, found := f.engine.Markers().Get("b"); !found {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if st := f.coord.Status(); st.State != StateViewing || st.Session.State != stream.StateLoading {
		t.Errorf("視聴が維持されていない: %+v", st)
	}
	select {
	case ev := <-events:
		t.Fatalf("置き換えでイベントが届いた: %+v", ev)
	default:
	}
}

// TestCoordinator_StopClosesSession は停止時のセッション解放をテストする
func TestCoordinator_StopClosesSession(t *testing.T) {
	f := newFixture(t, []camera.Camera{testCamera("a", camera.StatusOnline)})
	events := f.coord.Events()

	if err := f.coord.SelectCamera("a"); err != nil {
		t.Fatalf("SelectCamera failed: %v", err)
	}
	waitFor(t, events, sessionState(stream.StateLoading))

	if err := f.coord.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !f.factory.Engines()[0].IsDetached() {
		t.Error("停止後もエンジンが解放されていない")
	}

	// 冪等
	if err := f.coord.Stop(context.Background()); err != nil {
		t.Fatalf("2回目のStop failed: %v", err)
	}
}
