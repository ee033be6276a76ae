package marker

import (
	"sync"

	"miharashi/internal/camera"
	"miharashi/internal/geo"
)

// Set は地図のマーカーコレクションを所有する
type Set struct {
	mu sync.RWMutex

	// カメラID → マーカー。orderは表示順の安定化用
	byID  map[string]*Marker
	order []string

	selection *Marker
	placement *Marker
}

// NewSet は新しいSetを作成する
func NewSet() *Set {
	return &Set{
		byID: make(map[string]*Marker),
	}
}

// Synchronize はマーカーコレクションをカメラ一覧とID単位で厳密に一致させる
// 1スナップショット分の適用は不可分であり、部分適用は観測されない
func (s *Set) Synchronize(cameras []camera.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(cameras))
	order := make([]string, 0, len(cameras))

	for _, cam := range cameras {
		if seen[cam.ID] {
			continue
		}
		seen[cam.ID] = true
		order = append(order, cam.ID)

		if existing, exists := s.byID[cam.ID]; exists {
			// 残ったIDは同一実体のまま位置と内容だけを更新する
			existing.update(cam)
			continue
		}

		m := &Marker{kind: KindCamera}
		m.update(cam)
		s.byID[cam.ID] = m
	}

	// 消えたIDのマーカーを除去する
	for id := range s.byID {
		if !seen[id] {
			delete(s.byID, id)
		}
	}

	s.order = order
}

// CameraMarkers は現在のカメラマーカー一覧を表示順で返す
func (s *Set) CameraMarkers() []*Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Marker, 0, len(s.order))
	for _, id := range s.order {
		if m, exists := s.byID[id]; exists {
			out = append(out, m)
		}
	}
	return out
}

// Get は指定されたカメラIDのマーカーを返す
func (s *Set) Get(cameraID string) (*Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, exists := s.byID[cameraID]
	return m, exists
}

// SetSelection は選択マーカーを置き換える。nilで除去する
func (s *Set) SetSelection(coord *geo.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coord == nil {
		s.selection = nil
		return
	}
	s.selection = &Marker{kind: KindSelection, coord: *coord}
}

// Selection は現在の選択マーカーを返す
func (s *Set) Selection() *Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// SetPlacement は配置マーカーを置き換える。nilで除去する
func (s *Set) SetPlacement(coord *geo.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coord == nil {
		s.placement = nil
		return
	}
	s.placement = &Marker{kind: KindPlacement, coord: *coord}
}

// Placement は現在の配置マーカーを返す
func (s *Set) Placement() *Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.placement
}

// FindNearest は許容範囲内で最も近いカメラマーカーを返す
// プログラム的なナビゲーション後のマーカー再フォーカスに使用する
func (s *Set) FindNearest(coord geo.Coordinate, toleranceDeg float64) (*Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nearest *Marker
	best := toleranceDeg

	for _, id := range s.order {
		m, exists := s.byID[id]
		if !exists {
			continue
		}
		d := m.Coordinate().DistanceTo(coord)
		if d <= best {
			// 同距離の場合は表示順が先のマーカーを採用する
			if nearest == nil || d < best {
				nearest = m
				best = d
			}
		}
	}

	return nearest, nearest != nil
}

// Views は全マーカー（カメラ・選択・配置）の描画ビューを返す
func (s *Set) Views() []View {
	s.mu.RLock()
	markers := make([]*Marker, 0, len(s.order)+2)
	for _, id := range s.order {
		if m, exists := s.byID[id]; exists {
			markers = append(markers, m)
		}
	}
	if s.selection != nil {
		markers = append(markers, s.selection)
	}
	if s.placement != nil {
		markers = append(markers, s.placement)
	}
	s.mu.RUnlock()

	views := make([]View, 0, len(markers))
	for _, m := range markers {
		views = append(views, m.View())
	}
	return views
}
