package marker

import (
	"math"

	"miharashi/internal/geo"
)

// タイルサイズ（Web Mercatorの標準）
const tileSize = 256

// Cluster は近接マーカーをまとめた表示用プロキシ
// クリック・ズームで展開される。元マーカーの同一性には影響しない
type Cluster struct {
	Coord   geo.Coordinate // 含まれるマーカーの重心
	Markers []*Marker      // 含まれるカメラマーカー
}

// Size は含まれるマーカー数を返す
func (c Cluster) Size() int {
	return len(c.Markers)
}

// Clusters は指定ズームレベルでのクラスタ一覧を返す
// 画面上でradiusPxピクセル以内に収まるマーカー同士を同じクラスタにまとめる
func (s *Set) Clusters(zoom int, radiusPx float64) []Cluster {
	markers := s.CameraMarkers()
	if len(markers) == 0 {
		return nil
	}

	// ズームレベルでの1ピクセルあたりの経度幅からグリッドセル幅（度）を求める
	worldPx := float64(tileSize) * math.Pow(2, float64(zoom))
	cellDeg := radiusPx * 360 / worldPx

	type cellKey struct{ x, y int }
	cells := make(map[cellKey][]*Marker)
	keys := make([]cellKey, 0, len(markers))

	for _, m := range markers {
		coord := m.Coordinate()
		key := cellKey{
			x: int(math.Floor(coord.Lng / cellDeg)),
			y: int(math.Floor(coord.Lat / cellDeg)),
		}
		if _, exists := cells[key]; !exists {
			keys = append(keys, key)
		}
		cells[key] = append(cells[key], m)
	}

	clusters := make([]Cluster, 0, len(keys))
	for _, key := range keys {
		group := cells[key]

		var sumLat, sumLng float64
		for _, m := range group {
			coord := m.Coordinate()
			sumLat += coord.Lat
			sumLng += coord.Lng
		}

		clusters = append(clusters, Cluster{
			Coord: geo.Coordinate{
				Lat: sumLat / float64(len(group)),
				Lng: sumLng / float64(len(group)),
			},
			Markers: group,
		})
	}

	return clusters
}
