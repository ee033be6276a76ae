package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"miharashi/internal/camera"
	"miharashi/internal/geo"
	"miharashi/internal/mapengine"
	"miharashi/internal/stream"
)

// State はコーディネーターの最上位状態を表す
type State string

const (
	StateBrowsing State = "browsing" // 地図を閲覧中。セッションは閉じている
	StateViewing  State = "viewing"  // カメラを視聴中。セッションが開いている
	StatePlacing  State = "placing"  // 配置モード。セッションは閉じている
)

// EventType はコーディネーターが発行するイベントの種別
type EventType string

const (
	// EventCameraSelected はカメラの視聴開始を表す
	EventCameraSelected EventType = "cameraSelected"
	// EventCoordinateSelected は配置座標の確定を表す
	EventCoordinateSelected EventType = "coordinateSelected"
	// EventSessionStateChanged はセッション状態の変化を表す
	EventSessionStateChanged EventType = "sessionStateChanged"
	// EventModeChanged は最上位状態の遷移を表す
	EventModeChanged EventType = "modeChanged"
)

// Event は外部コラボレーターへ配信する型付きイベント
type Event struct {
	Type      EventType      `json:"type"`
	State     State          `json:"state,omitempty"`
	Camera    camera.Camera  `json:"camera,omitempty"`    // EventCameraSelected
	Coord     geo.Coordinate `json:"coord,omitempty"`     // EventCoordinateSelected
	PlaceName string         `json:"placeName,omitempty"` // EventCoordinateSelected
	Autofill  bool           `json:"autofill,omitempty"`  // EventCoordinateSelected
	Session   stream.Status  `json:"session,omitempty"`   // EventSessionStateChanged
}

// Status はコーディネーター状態のスナップショット
type Status struct {
	State         State         `json:"state"`
	ViewingID     string        `json:"viewingId,omitempty"`
	PlacementMode bool          `json:"placementMode"`
	Session       stream.Status `json:"session"`
}

// Option はCoordinatorのオプション設定関数
type Option func(*Coordinator)

// WithAutofillOnReplace は既存カメラの再配置時にも地名を自動入力するかを設定する
// 新規作成時の配置は設定に関わらず常に自動入力される
func WithAutofillOnReplace(enabled bool) Option {
	return func(c *Coordinator) {
		c.autofillOnReplace = enabled
	}
}

// WithSessionOptions はセッションへ渡すオプションを設定する
func WithSessionOptions(opts ...stream.Option) Option {
	return func(c *Coordinator) {
		c.sessionOpts = opts
	}
}

// Coordinator は地図・カメラコレクション・ストリームセッションを統合する
// セッションの開閉はこの型だけが行う
type Coordinator struct {
	manager   camera.Manager
	engine    *mapengine.Engine
	session   *stream.Session
	logger    zerolog.Logger
	snapshots <-chan *camera.Snapshot

	autofillOnReplace bool
	sessionOpts       []stream.Option

	mu        sync.Mutex
	state     State
	viewingID string
	editing   bool
	started   bool
	stopping  bool
	closed    bool

	events chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New は新しいCoordinatorを作成する
func New(manager camera.Manager, engine *mapengine.Engine, factory stream.EngineFactory, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		manager: manager,
		engine:  engine,
		logger:  logger,
		state:   StateBrowsing,
		events:  make(chan Event, 32),
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	sessionOpts := append([]stream.Option{stream.WithStateListener(c.onSessionState)}, c.sessionOpts...)
	c.session = stream.NewSession(factory, logger, sessionOpts...)

	return c
}

// Events はコーディネーターイベントの受信チャンネルを返す
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Start はイベントループを開始する
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("コーディネーターは既に開始されています")
	}
	c.started = true
	c.mu.Unlock()

	c.snapshots = c.manager.Subscribe()
	c.engine.Synchronize(c.manager.Snapshot())

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop はイベントループを止め、セッションを閉じる。冪等
func (c *Coordinator) Stop(_ context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	c.session.Close()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.events)

	return nil
}

// run は地図イベントとコレクション置き換えを1本のループで処理する
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	mapEvents := c.engine.Events()
	snapshots := c.snapshots

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-mapEvents:
			if !ok {
				mapEvents = nil
				continue
			}
			c.handleMapEvent(ev)
		case snapshot, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			c.handleSnapshot(snapshot)
		}
	}
}

// SelectCamera はID指定の選択（サイドバー経路）を処理する
// 地図をフォーカスしてから視聴へ遷移する
func (c *Coordinator) SelectCamera(id string) error {
	cam, found := c.manager.Snapshot().Get(id)
	if !found {
		return fmt.Errorf("カメラが見つかりません: %s", id)
	}

	c.engine.Focus(cam)
	c.viewCamera(cam)
	return nil
}

// Click は地図クリックを地図エンジンへ委譲する
func (c *Coordinator) Click(coord geo.Coordinate) {
	c.engine.Click(coord)
}

// Dismiss は視聴を終了してBrowsingへ戻る
func (c *Coordinator) Dismiss() {
	c.mu.Lock()
	if c.state != StateViewing {
		c.mu.Unlock()
		return
	}
	c.state = StateBrowsing
	c.viewingID = ""
	st := c.state
	c.mu.Unlock()

	c.session.Close()
	c.emit(Event{Type: EventModeChanged, State: st})
}

// SetPlacementMode は配置モードを切り替える
// editing は既存カメラの座標編集かどうか（地名自動入力のポリシー判定に使う）
func (c *Coordinator) SetPlacementMode(enabled, editing bool) {
	c.mu.Lock()
	if c.closed || (c.state == StatePlacing) == enabled {
		c.mu.Unlock()
		return
	}

	wasViewing := c.state == StateViewing
	if enabled {
		c.state = StatePlacing
		c.viewingID = ""
		c.editing = editing
	} else {
		c.state = StateBrowsing
		c.editing = false
	}
	st := c.state
	c.mu.Unlock()

	// 配置と再生は相互排他。先にセッションを閉じる
	if enabled && wasViewing {
		c.session.Close()
	}
	c.engine.SetPlacementMode(enabled)
	c.emit(Event{Type: EventModeChanged, State: st})
}

// ConfirmCoordinate は配置座標の確定を選択マーカーとして記録する
func (c *Coordinator) ConfirmCoordinate(coord geo.Coordinate) error {
	if err := coord.Validate(); err != nil {
		return err
	}
	c.engine.Markers().SetSelection(&coord)
	return nil
}

// Status は現在のコーディネーター状態を返す
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		State:         c.state,
		ViewingID:     c.viewingID,
		PlacementMode: c.state == StatePlacing,
	}
	c.mu.Unlock()

	st.Session = c.session.Status()
	return st
}

// TogglePlay は再生と一時停止を切り替える
func (c *Coordinator) TogglePlay() error { return c.session.TogglePlay() }

// ToggleMute はミュートを切り替える
func (c *Coordinator) ToggleMute() error { return c.session.ToggleMute() }

// SetVolume は音量を設定する
func (c *Coordinator) SetVolume(v float64) error { return c.session.SetVolume(v) }

// ToggleFullscreen はフルスクリーンを切り替える
func (c *Coordinator) ToggleFullscreen() error { return c.session.ToggleFullscreen() }

// TogglePictureInPicture はピクチャーインピクチャーを切り替える
func (c *Coordinator) TogglePictureInPicture() error { return c.session.TogglePictureInPicture() }

// handleMapEvent は地図イベントを状態遷移へ反映する
func (c *Coordinator) handleMapEvent(ev mapengine.Event) {
	switch ev.Type {
	case mapengine.EventCameraSelected:
		c.viewCamera(ev.Camera)

	case mapengine.EventCoordinateSelected:
		c.mu.Lock()
		if c.state != StatePlacing {
			// 配置モードを抜けた後に届いた遅延イベント
			c.mu.Unlock()
			return
		}
		autofill := !c.editing || c.autofillOnReplace
		c.mu.Unlock()

		c.emit(Event{
			Type:      EventCoordinateSelected,
			State:     StatePlacing,
			Coord:     ev.Coord,
			PlaceName: ev.PlaceName,
			Autofill:  autofill,
		})
	}
}

// viewCamera はViewingへ遷移してセッションを開く
// 配置モード中のカメラ選択は無視される
func (c *Coordinator) viewCamera(cam camera.Camera) {
	c.mu.Lock()
	if c.closed || c.state == StatePlacing {
		c.mu.Unlock()
		return
	}
	c.state = StateViewing
	c.viewingID = cam.ID
	c.mu.Unlock()

	if err := c.session.Open(context.Background(), cam); err != nil {
		c.logger.Warn().Str("camera_id", cam.ID).Err(err).Msg("セッションを開けませんでした")
	}
	c.emit(Event{Type: EventCameraSelected, State: StateViewing, Camera: cam})
}

// handleSnapshot はコレクション置き換えをマーカーと状態へ反映する
// 視聴中のカメラが消えた場合は強制的にBrowsingへ戻す
func (c *Coordinator) handleSnapshot(snapshot *camera.Snapshot) {
	c.engine.Synchronize(snapshot)

	c.mu.Lock()
	forced := false
	if c.state == StateViewing {
		if _, found := snapshot.Get(c.viewingID); !found {
			c.logger.Info().Str("camera_id", c.viewingID).Msg("視聴中のカメラがコレクションから消えました")
			c.state = StateBrowsing
			c.viewingID = ""
			forced = true
		}
	}
	c.mu.Unlock()

	if forced {
		c.session.Close()
		c.emit(Event{Type: EventModeChanged, State: StateBrowsing})
	}
}

// onSessionState はセッションの状態変化を外部へ転送する
func (c *Coordinator) onSessionState(st stream.Status) {
	c.emit(Event{Type: EventSessionStateChanged, Session: st})
}

// emit はイベントを非ブロッキングで送出する
func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn().Str("type", string(ev.Type)).Msg("イベントバッファが一杯のため破棄します")
	}
}
