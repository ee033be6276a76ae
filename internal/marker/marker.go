package marker

import (
	"sync"

	"miharashi/internal/camera"
	"miharashi/internal/geo"
)

// Kind はマーカーの種別を表す
type Kind string

const (
	KindCamera    Kind = "camera"    // カメラに紐づくマーカー
	KindSelection Kind = "selection" // 確定済み座標を示すマーカー（高々1つ）
	KindPlacement Kind = "placement" // 配置モードの未確定クリックを示すマーカー（高々1つ）
)

// ステータスに応じたマーカー色
const (
	ColorOnline    = "hsl(142 76% 36%)" // 稼働中（緑）
	ColorOffline   = "hsl(0 84% 60%)"   // 停止中（赤）
	ColorHighlight = "hsl(47 96% 53%)"  // 選択・配置（黄）
)

// Marker は地図上の1つのマーカーを表す
// カメラマーカーはSynchronizeをまたいで同一実体が維持される
type Marker struct {
	kind  Kind
	mu    sync.RWMutex
	coord geo.Coordinate
	cam   camera.Camera // KindCameraのときのみ有効
	popup bool
}

// Kind はマーカー種別を返す
func (m *Marker) Kind() Kind {
	return m.kind
}

// Coordinate は現在の座標を返す
func (m *Marker) Coordinate() geo.Coordinate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coord
}

// Camera は紐づくカメラを返す（KindCameraのみ）
func (m *Marker) Camera() (camera.Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.kind != KindCamera {
		return camera.Camera{}, false
	}
	return m.cam, true
}

// OpenPopup はポップアップを開いた状態にする
func (m *Marker) OpenPopup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popup = true
}

// ClosePopup はポップアップを閉じた状態にする
func (m *Marker) ClosePopup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popup = false
}

// IsPopupOpen はポップアップが開いているかを返す
func (m *Marker) IsPopupOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.popup
}

// update はカメラレコードの内容をマーカーへ反映する（同一実体のまま）
func (m *Marker) update(cam camera.Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cam = cam
	m.coord = cam.Coordinate
}

// View はマーカーの描画用ビューを表す
type View struct {
	Kind      Kind           `json:"kind"`
	Coord     geo.Coordinate `json:"coord"`
	Color     string         `json:"color"`
	Pulse     bool           `json:"pulse"`
	PopupOpen bool           `json:"popupOpen"`

	// KindCameraのときのみ設定される
	CameraID string        `json:"cameraId,omitempty"`
	Name     string        `json:"name,omitempty"`
	Location string        `json:"location,omitempty"`
	Status   camera.Status `json:"status,omitempty"`
}

// View は種別ごとの明示的な描画内容を返す
func (m *Marker) View() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.kind {
	case KindCamera:
		color := ColorOffline
		pulse := false
		if m.cam.Status == camera.StatusOnline {
			color = ColorOnline
			pulse = true
		}
		return View{
			Kind:      KindCamera,
			Coord:     m.coord,
			Color:     color,
			Pulse:     pulse,
			PopupOpen: m.popup,
			CameraID:  m.cam.ID,
			Name:      m.cam.Name,
			Location:  m.cam.Location,
			Status:    m.cam.Status,
		}
	case KindSelection:
		return View{
			Kind:      KindSelection,
			Coord:     m.coord,
			Color:     ColorHighlight,
			Pulse:     true,
			PopupOpen: m.popup,
		}
	default:
		return View{
			Kind:      KindPlacement,
			Coord:     m.coord,
			Color:     ColorHighlight,
			Pulse:     false,
			PopupOpen: m.popup,
		}
	}
}
