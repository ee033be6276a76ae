package geo

import (
	"fmt"
	"math"
)

// Coordinate は緯度・経度のペアを表す
type Coordinate struct {
	Lat float64 `json:"lat"` // 緯度（-90..90）
	Lng float64 `json:"lng"` // 経度（-180..180）
}

// NewCoordinate は検証済みのCoordinateを作成する
func NewCoordinate(lat, lng float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate は座標の妥当性を検証する
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) {
		return fmt.Errorf("緯度が有限値ではありません: %v", c.Lat)
	}
	if math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("経度が有限値ではありません: %v", c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("緯度が範囲外です: %f", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("経度が範囲外です: %f", c.Lng)
	}
	return nil
}

// DistanceTo は2点間のチェビシェフ距離（度単位）を返す
// マーカーの近傍判定に使用する
func (c Coordinate) DistanceTo(other Coordinate) float64 {
	dLat := math.Abs(c.Lat - other.Lat)
	dLng := math.Abs(c.Lng - other.Lng)
	return math.Max(dLat, dLng)
}

// FallbackLabel は地名が得られない場合の固定6桁精度ラベルを返す
// 同じ座標に対して常に同じ文字列を返す（決定的）
func FallbackLabel(c Coordinate) string {
	return fmt.Sprintf("%.6f, %.6f", c.Lat, c.Lng)
}
