package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager はカメラスナップショットの管理を担うインターフェース
type Manager interface {
	// Start はマネージャーを開始する（初回取得と定期ポーリング）
	Start(ctx context.Context) error

	// Stop はマネージャーを停止する
	Stop(ctx context.Context) error

	// Snapshot は現在のスナップショットを取得する
	Snapshot() *Snapshot

	// Refresh は即時に一覧を再取得する
	Refresh(ctx context.Context) error

	// Subscribe はスナップショット置き換えの通知チャンネルを返す
	Subscribe() <-chan *Snapshot
}

// DefaultManager はManagerのデフォルト実装
type DefaultManager struct {
	directory Directory
	logger    zerolog.Logger

	mu          sync.RWMutex
	current     *Snapshot
	subscribers []chan *Snapshot

	// 制御用
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	// ポーリング設定
	pollInterval time.Duration
}

// NewDefaultManager は新しいDefaultManagerを作成する
func NewDefaultManager(directory Directory, pollInterval time.Duration, logger zerolog.Logger) *DefaultManager {
	return &DefaultManager{
		directory:    directory,
		logger:       logger,
		current:      NewSnapshot(nil),
		stopCh:       make(chan struct{}),
		pollInterval: pollInterval,
	}
}

// Start はマネージャーを開始する
func (m *DefaultManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("マネージャーは既に開始されています")
	}
	m.started = true
	m.mu.Unlock()

	// 初回取得。失敗しても空のスナップショットで稼働を続ける
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("カメラ一覧の初回取得に失敗しました")
	}

	if m.pollInterval > 0 {
		m.wg.Add(1)
		go m.backgroundPoll(ctx)
	}

	return nil
}

// Stop はマネージャーを停止する
func (m *DefaultManager) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	m.stopCh = make(chan struct{})

	return nil
}

// Snapshot は現在のスナップショットを取得する
func (m *DefaultManager) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Refresh は即時に一覧を再取得し、変化があれば購読者へ通知する
func (m *DefaultManager) Refresh(ctx context.Context) error {
	snapshot, err := m.directory.FetchCameras(ctx)
	if err != nil {
		return fmt.Errorf("カメラ一覧の再取得に失敗: %w", err)
	}

	m.mu.Lock()
	if snapshot.Equal(m.current) {
		m.mu.Unlock()
		return nil
	}
	m.current = snapshot
	subscribers := make([]chan *Snapshot, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	m.logger.Info().Int("cameras", snapshot.Len()).Msg("カメラコレクションを置き換えました")

	for _, ch := range subscribers {
		// 購読者が追い付いていない場合は古い通知を捨てて最新を入れる
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}

	return nil
}

// Subscribe はスナップショット置き換えの通知チャンネルを返す
func (m *DefaultManager) Subscribe() <-chan *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Snapshot, 1)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// backgroundPoll は定期的にディレクトリをポーリングする
func (m *DefaultManager) backgroundPoll(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("定期ポーリングに失敗しました")
			}
		}
	}
}
