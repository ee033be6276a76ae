package camera

import (
	"miharashi/internal/geo"
)

// Status はカメラの稼働状態を表す
type Status string

const (
	StatusOnline  Status = "online"  // カメラは配信中
	StatusOffline Status = "offline" // カメラは停止中
)

// Camera は外部ディレクトリサービスが供給するカメラレコードの読み取り専用ビュー
// コアはフィールドを変更しない
type Camera struct {
	ID             string         `json:"id"`             // 一意識別子（スナップショット内で安定）
	Name           string         `json:"name"`           // 表示名
	Location       string         `json:"location"`       // 所在地の表示文字列
	Coordinate     geo.Coordinate `json:"coordinate"`     // 設置座標
	StreamEndpoint string         `json:"streamEndpoint"` // 配信プレイリストURI（到達可能性は再生時にのみ判明する）
	Status         Status         `json:"status"`         // 稼働状態
}

// Snapshot はカメラコレクションの不変スナップショット
// コレクションは常に全体が置き換えられ、部分更新は存在しない
type Snapshot struct {
	cameras []Camera
	byID    map[string]int
}

// NewSnapshot はカメラ一覧から新しいSnapshotを作成する
// 同じIDが複数あった場合は後勝ちで1件に正規化される
func NewSnapshot(cameras []Camera) *Snapshot {
	byID := make(map[string]int, len(cameras))
	deduped := make([]Camera, 0, len(cameras))

	for _, cam := range cameras {
		if idx, exists := byID[cam.ID]; exists {
			deduped[idx] = cam
			continue
		}
		byID[cam.ID] = len(deduped)
		deduped = append(deduped, cam)
	}

	return &Snapshot{cameras: deduped, byID: byID}
}

// Cameras はカメラ一覧のコピーを返す
func (s *Snapshot) Cameras() []Camera {
	out := make([]Camera, len(s.cameras))
	copy(out, s.cameras)
	return out
}

// Get は指定されたIDのカメラを返す
func (s *Snapshot) Get(id string) (Camera, bool) {
	idx, exists := s.byID[id]
	if !exists {
		return Camera{}, false
	}
	return s.cameras[idx], true
}

// Len はカメラの件数を返す
func (s *Snapshot) Len() int {
	return len(s.cameras)
}

// Equal は2つのスナップショットが同一内容かを判定する
// ポーリングで変化が無かった場合の無駄な通知を抑制するために使用する
func (s *Snapshot) Equal(other *Snapshot) bool {
	if other == nil || len(s.cameras) != len(other.cameras) {
		return false
	}
	for i, cam := range s.cameras {
		if cam != other.cameras[i] {
			return false
		}
	}
	return true
}
