package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// EngineEventType はエンジンイベントの種別
type EngineEventType string

const (
	// EventManifestReady はマニフェストのロード完了を表す
	EventManifestReady EngineEventType = "manifest_ready"
	// EventError はアタッチ失敗または再生中エラーを表す
	EventError EngineEventType = "error"
)

// EngineEvent はストリーミングエンジンからの通知
type EngineEvent struct {
	Type EngineEventType
	Err  error // EventErrorのときのみ設定される
}

// Engine は1つのストリーミングアタッチメントを抽象化する
// 特定のプロトコルバージョンは仮定せず、マニフェスト準備完了と
// エラーの通知のみを契約とする
type Engine interface {
	// Attach はエンドポイントへのアタッチを開始し、イベントチャンネルを返す
	// イベントは非同期に届く。ctxのキャンセルでロードは中断される
	Attach(ctx context.Context, endpoint string) (<-chan EngineEvent, error)

	// Detach はアタッチメントを解放する。冪等
	Detach()
}

// EngineFactory はOpenごとに新しいEngineを作成する
type EngineFactory interface {
	NewEngine() Engine
}

// HLSEngine はHLSプレイリストを取得するEngine実装
// 2xxレスポンスかつ#EXTM3Uで始まるボディをマニフェスト準備完了とみなす
type HLSEngine struct {
	client *http.Client

	mu       sync.Mutex
	cancel   context.CancelFunc
	detached bool
}

// HLSEngineFactory はHLSEngineを作成するEngineFactory実装
type HLSEngineFactory struct {
	Client *http.Client
}

// NewEngine は新しいHLSEngineを作成する
func (f *HLSEngineFactory) NewEngine() Engine {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HLSEngine{client: client}
}

// Attach はプレイリストの取得を開始する
func (e *HLSEngine) Attach(ctx context.Context, endpoint string) (<-chan EngineEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.detached {
		return nil, fmt.Errorf("エンジンは既に解放されています")
	}
	if e.cancel != nil {
		return nil, fmt.Errorf("エンジンは既にアタッチされています")
	}

	loadCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	events := make(chan EngineEvent, 4)
	go e.loadManifest(loadCtx, endpoint, events)

	return events, nil
}

// Detach はアタッチメントを解放する
func (e *HLSEngine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detached = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// loadManifest はプレイリストを取得してマニフェスト準備完了を判定する
func (e *HLSEngine) loadManifest(ctx context.Context, endpoint string, events chan<- EngineEvent) {
	emit := func(ev EngineEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		emit(EngineEvent{Type: EventError, Err: fmt.Errorf("リクエストの作成に失敗: %w", err)})
		return
	}

	resp, err := e.client.Do(req)
	if err != nil {
		emit(EngineEvent{Type: EventError, Err: fmt.Errorf("マニフェストの取得に失敗: %w", err)})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		emit(EngineEvent{Type: EventError, Err: fmt.Errorf("マニフェストの取得が異常ステータスを返しました: %d", resp.StatusCode)})
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		emit(EngineEvent{Type: EventError, Err: fmt.Errorf("マニフェストの読み込みに失敗: %w", err)})
		return
	}

	if !strings.HasPrefix(strings.TrimSpace(string(body)), "#EXTM3U") {
		emit(EngineEvent{Type: EventError, Err: fmt.Errorf("マニフェストの形式が不正です")})
		return
	}

	emit(EngineEvent{Type: EventManifestReady})
}

// MockEngine はテスト用のモックEngine実装
type MockEngine struct {
	mu       sync.Mutex
	events   chan EngineEvent
	attached bool
	detached bool

	// 記録用
	Endpoint    string
	AttachCount int
	DetachCount int

	// アタッチ順・解放順の検証用（nilなら記録しない）
	Journal *EngineJournal
	Label   string
}

// EngineJournal は複数エンジンにまたがる操作順を記録する
type EngineJournal struct {
	mu      sync.Mutex
	entries []string
}

// Record は操作を記録する
func (j *EngineJournal) Record(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Entries は記録された操作列を返す
func (j *EngineJournal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

// Attach はモックのアタッチを記録してイベントチャンネルを返す
func (m *MockEngine) Attach(_ context.Context, endpoint string) (<-chan EngineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attached = true
	m.Endpoint = endpoint
	m.AttachCount++
	m.events = make(chan EngineEvent, 4)

	if m.Journal != nil {
		m.Journal.Record("attach:" + m.Label)
	}

	return m.events, nil
}

// Detach はモックの解放を記録する
func (m *MockEngine) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.detached {
		return
	}
	m.detached = true
	m.DetachCount++

	if m.Journal != nil {
		m.Journal.Record("detach:" + m.Label)
	}
}

// Fire はエンジンイベントを発火する
func (m *MockEngine) Fire(ev EngineEvent) {
	m.mu.Lock()
	events := m.events
	m.mu.Unlock()

	if events != nil {
		events <- ev
	}
}

// IsDetached は解放済みかを返す
func (m *MockEngine) IsDetached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detached
}

// MockEngineFactory は作成したMockEngineを記録するEngineFactory実装
type MockEngineFactory struct {
	mu      sync.Mutex
	Journal *EngineJournal
	engines []*MockEngine
}

// NewEngine は新しいMockEngineを作成して記録する
func (f *MockEngineFactory) NewEngine() Engine {
	f.mu.Lock()
	defer f.mu.Unlock()

	engine := &MockEngine{
		Journal: f.Journal,
		Label:   fmt.Sprintf("engine-%d", len(f.engines)+1),
	}
	f.engines = append(f.engines, engine)
	return engine
}

// Engines は作成されたエンジン一覧を返す
func (f *MockEngineFactory) Engines() []*MockEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockEngine, len(f.engines))
	copy(out, f.engines)
	return out
}
