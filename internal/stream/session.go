package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"miharashi/internal/camera"
)

// State はセッションの再生状態を表す
type State string

const (
	StateIdle    State = "idle"    // マニフェスト準備完了・再生待ち
	StateLoading State = "loading" // マニフェストのロード中
	StatePlaying State = "playing" // 再生中
	StatePaused  State = "paused"  // 一時停止中
	StateError   State = "error"   // 再生エラー（セッションは開いたまま）
	StateOffline State = "offline" // カメラがオフライン（アタッチなし）
	StateClosed  State = "closed"  // 終端。リソース解放済み
)

// DefaultVolume は再生開始時のデフォルト音量
const DefaultVolume = 0.5

var (
	// ErrCapabilityUnsupported はプラットフォームが機能を提供していないことを表す
	ErrCapabilityUnsupported = errors.New("プラットフォームがこの機能をサポートしていません")

	// ErrNotPlayable は現在の状態で再生操作ができないことを表す
	ErrNotPlayable = errors.New("再生操作ができる状態ではありません")
)

// Capabilities はプラットフォームの再生機能の有無を表す
type Capabilities struct {
	Fullscreen       bool
	PictureInPicture bool
}

// Status はセッション状態のスナップショット
type Status struct {
	State              State   `json:"state"`
	CameraID           string  `json:"cameraId,omitempty"`
	IsMuted            bool    `json:"isMuted"`
	Volume             float64 `json:"volume"`
	IsFullscreen       bool    `json:"isFullscreen"`
	IsPictureInPicture bool    `json:"isPictureInPicture"`
}

// Option はSessionのオプション設定関数
type Option func(*Session)

// WithAutoplay はマニフェスト準備完了時の自動再生を設定する
func WithAutoplay(autoplay bool) Option {
	return func(s *Session) {
		s.autoplay = autoplay
	}
}

// WithCapabilities はプラットフォーム機能を設定する
func WithCapabilities(caps Capabilities) Option {
	return func(s *Session) {
		s.caps = caps
	}
}

// WithStateListener は状態変化の通知先を設定する
// リスナー内からセッションのメソッドを呼んではならない
func WithStateListener(listener func(Status)) Option {
	return func(s *Session) {
		s.listener = listener
	}
}

// Session は1つの再生アタッチメントのライフサイクルを管理する
// 同時に開けるアタッチメントは高々1つ
type Session struct {
	factory  EngineFactory
	logger   zerolog.Logger
	autoplay bool
	caps     Capabilities
	listener func(Status)

	mu         sync.Mutex
	state      State
	cameraID   string
	muted      bool
	volume     float64
	fullscreen bool
	pip        bool

	engine Engine
	cancel context.CancelFunc

	// 世代トークン。OpenとCloseのたびに増え、
	// 古い世代のエンジンイベントは破棄される
	gen uint64
}

// NewSession は新しいSessionを作成する
func NewSession(factory EngineFactory, logger zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		factory:  factory,
		logger:   logger,
		autoplay: true,
		caps:     Capabilities{Fullscreen: true, PictureInPicture: true},
		state:    StateClosed,
		muted:    true,
		volume:   DefaultVolume,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Open はカメラの配信へのアタッチを開始する
// 既に開いているセッションがある場合は先に完全に閉じてから開く
func (s *Session) Open(ctx context.Context, cam camera.Camera) error {
	s.mu.Lock()

	// 直前のアタッチメントを完全に解放してから新しいアタッチを始める
	s.releaseLocked()

	gen := s.gen
	s.cameraID = cam.ID
	s.muted = true // 自動再生ポリシーに合わせてミュートで開始する
	s.volume = DefaultVolume
	s.fullscreen = false
	s.pip = false

	if cam.Status == camera.StatusOffline {
		// オフラインカメラにはアタッチを試みない
		s.state = StateOffline
		st := s.statusLocked()
		s.mu.Unlock()
		s.notify(st)
		return nil
	}

	s.state = StateLoading
	engine := s.factory.NewEngine()
	s.engine = engine

	// アタッチメントは呼び出し元のリクエスト寿命より長く生きる
	attachCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	events, err := engine.Attach(attachCtx, cam.StreamEndpoint)
	if err != nil {
		s.state = StateError
		st := s.statusLocked()
		s.mu.Unlock()
		s.notify(st)
		return fmt.Errorf("ストリームのアタッチに失敗: %w", err)
	}

	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)

	go s.watch(attachCtx, gen, events)
	return nil
}

// Close はセッションを閉じてリソースを解放する。冪等
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}

	s.releaseLocked()
	s.cameraID = ""
	s.state = StateClosed
	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
}

// TogglePlay は再生と一時停止を切り替える
func (s *Session) TogglePlay() error {
	s.mu.Lock()

	switch s.state {
	case StatePlaying:
		s.state = StatePaused
	case StatePaused, StateIdle:
		s.state = StatePlaying
	default:
		s.mu.Unlock()
		return ErrNotPlayable
	}

	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// ToggleMute はミュートを切り替える
func (s *Session) ToggleMute() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrNotPlayable
	}

	s.muted = !s.muted
	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// SetVolume は音量を設定する。範囲は[0,1]に丸められ、
// ミュート中に正の音量を設定するとミュートは解除される
func (s *Session) SetVolume(v float64) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrNotPlayable
	}

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.volume = v
	if v > 0 && s.muted {
		s.muted = false
	}

	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// ToggleFullscreen はフルスクリーンを切り替える
func (s *Session) ToggleFullscreen() error {
	s.mu.Lock()
	if !s.caps.Fullscreen {
		s.mu.Unlock()
		return ErrCapabilityUnsupported
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrNotPlayable
	}

	s.fullscreen = !s.fullscreen
	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// TogglePictureInPicture はピクチャーインピクチャーを切り替える
func (s *Session) TogglePictureInPicture() error {
	s.mu.Lock()
	if !s.caps.PictureInPicture {
		s.mu.Unlock()
		return ErrCapabilityUnsupported
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrNotPlayable
	}

	s.pip = !s.pip
	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// Status は現在のセッション状態を返す
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// releaseLocked はアタッチメントを解放し世代を進める（ロック済み前提）
// Open・Closeどちらの経路でも必ずこの順序で解放する
func (s *Session) releaseLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.engine != nil {
		s.engine.Detach()
		s.engine = nil
	}
}

// watch はエンジンイベントを監視する
func (s *Session) watch(ctx context.Context, gen uint64, events <-chan EngineEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEngineEvent(gen, ev)
		}
	}
}

// handleEngineEvent はエンジンイベントを状態遷移へ反映する
// 古い世代のイベントは黙って破棄される
func (s *Session) handleEngineEvent(gen uint64, ev EngineEvent) {
	s.mu.Lock()

	if gen != s.gen {
		// 閉じた後や再オープン後に届いた遅延イベント
		s.mu.Unlock()
		return
	}

	switch ev.Type {
	case EventManifestReady:
		if s.state != StateLoading {
			s.mu.Unlock()
			return
		}
		if s.autoplay {
			s.state = StatePlaying
		} else {
			s.state = StateIdle
		}

	case EventError:
		switch s.state {
		case StateLoading, StatePlaying, StatePaused:
			s.state = StateError
			s.logger.Warn().
				Str("camera_id", s.cameraID).
				Err(ev.Err).
				Msg("ストリームエラーが発生しました")
		default:
			s.mu.Unlock()
			return
		}

	default:
		s.mu.Unlock()
		return
	}

	st := s.statusLocked()
	s.mu.Unlock()
	s.notify(st)
}

// statusLocked は状態スナップショットを組み立てる（ロック済み前提）
func (s *Session) statusLocked() Status {
	return Status{
		State:              s.state,
		CameraID:           s.cameraID,
		IsMuted:            s.muted,
		Volume:             s.volume,
		IsFullscreen:       s.fullscreen,
		IsPictureInPicture: s.pip,
	}
}

// notify は状態変化をリスナーへ通知する
func (s *Session) notify(st Status) {
	if s.listener != nil {
		s.listener(st)
	}
}
