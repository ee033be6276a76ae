package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"miharashi/internal/geo"
	"miharashi/internal/mapengine"
	"miharashi/internal/marker"
	"miharashi/internal/stream"
)

// errorResponse はエラーレスポンスの共通形式
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func abortError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// handleHealth はヘルスチェックエンドポイントの実装
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイントの実装
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"cameras":     s.manager.Snapshot().Len(),
		"clients":     s.hub.ClientCount(),
		"coordinator": s.coordinator.Status(),
		"timestamp":   time.Now(),
	})
}

// handleCameras はカメラ一覧取得エンドポイントの実装
func (s *Server) handleCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cameras": s.manager.Snapshot().Cameras(),
	})
}

// handleSelectCamera はID指定のカメラ選択（サイドバー経路）の実装
func (s *Server) handleSelectCamera(c *gin.Context) {
	if err := s.coordinator.SelectCamera(c.Param("id")); err != nil {
		abortError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}
	c.JSON(http.StatusOK, s.coordinator.Status())
}

// handleDismiss は視聴の終了の実装
func (s *Server) handleDismiss(c *gin.Context) {
	s.coordinator.Dismiss()
	c.JSON(http.StatusOK, s.coordinator.Status())
}

// handleMap は地図の現在の描画内容取得の実装
func (s *Server) handleMap(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"viewport":      s.mapEngine.Viewport(),
		"placementMode": s.mapEngine.PlacementMode(),
		"markers":       s.mapEngine.Markers().Views(),
	})
}

// clusterView はクラスタの描画用レスポンス
type clusterView struct {
	Coord   geo.Coordinate `json:"coord"`
	Size    int            `json:"size"`
	Markers []marker.View  `json:"markers"`
}

// handleMapClusters はズームレベルに応じたマーカークラスタ取得の実装
func (s *Server) handleMapClusters(c *gin.Context) {
	zoom, err := strconv.Atoi(c.DefaultQuery("zoom", strconv.Itoa(mapengine.DefaultZoom)))
	if err != nil || zoom < mapengine.MinZoom || zoom > mapengine.MaxZoom {
		abortError(c, http.StatusBadRequest, "invalid_zoom", "ズームレベルが不正です")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "40"), 64)
	if err != nil || radius <= 0 {
		abortError(c, http.StatusBadRequest, "invalid_radius", "クラスタ半径が不正です")
		return
	}

	clusters := s.mapEngine.Markers().Clusters(zoom, radius)
	views := make([]clusterView, 0, len(clusters))
	for _, cl := range clusters {
		markers := make([]marker.View, 0, len(cl.Markers))
		for _, m := range cl.Markers {
			markers = append(markers, m.View())
		}
		views = append(views, clusterView{Coord: cl.Coord, Size: cl.Size(), Markers: markers})
	}

	c.JSON(http.StatusOK, gin.H{"zoom": zoom, "clusters": views})
}

// handleMarkerSelect はマーカーポップアップ内の選択操作の実装
// 地図エンジンの型付きイベントを経由してコーディネーターへ届く
func (s *Server) handleMarkerSelect(c *gin.Context) {
	cam, found := s.manager.Snapshot().Get(c.Param("id"))
	if !found {
		abortError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
		return
	}

	s.mapEngine.SelectCamera(cam)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// coordinateRequest は座標を受け取るリクエストの共通形式
type coordinateRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// handleMapClick は地図クリックの実装
func (s *Server) handleMapClick(c *gin.Context) {
	var req coordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}

	coord, err := geo.NewCoordinate(req.Lat, req.Lng)
	if err != nil {
		abortError(c, http.StatusBadRequest, "invalid_coordinate", "座標が不正です")
		return
	}

	s.coordinator.Click(coord)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleMapFit は全マーカー表示の実装
func (s *Server) handleMapFit(c *gin.Context) {
	s.mapEngine.FitAll()
	c.JSON(http.StatusOK, gin.H{"viewport": s.mapEngine.Viewport()})
}

// modeRequest はモード切り替えリクエスト
type modeRequest struct {
	Placement bool `json:"placement"`
	Editing   bool `json:"editing"`
}

// handleSetMode は配置モード切り替えの実装
func (s *Server) handleSetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}

	s.coordinator.SetPlacementMode(req.Placement, req.Editing)
	c.JSON(http.StatusOK, s.coordinator.Status())
}

// handleConfirmPlacement は配置座標の確定の実装
func (s *Server) handleConfirmPlacement(c *gin.Context) {
	var req coordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}

	coord, err := geo.NewCoordinate(req.Lat, req.Lng)
	if err != nil {
		abortError(c, http.StatusBadRequest, "invalid_coordinate", "座標が不正です")
		return
	}

	if err := s.coordinator.ConfirmCoordinate(coord); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_coordinate", "座標が不正です")
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": coord})
}

// handleSession はセッション状態取得の実装
func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.Status().Session)
}

// handleSessionPlay は再生・一時停止切り替えの実装
func (s *Server) handleSessionPlay(c *gin.Context) {
	s.sessionControl(c, s.coordinator.TogglePlay)
}

// handleSessionMute はミュート切り替えの実装
func (s *Server) handleSessionMute(c *gin.Context) {
	s.sessionControl(c, s.coordinator.ToggleMute)
}

// volumeRequest は音量設定リクエスト
type volumeRequest struct {
	Volume float64 `json:"volume"`
}

// handleSessionVolume は音量設定の実装
func (s *Server) handleSessionVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}

	s.sessionControl(c, func() error {
		return s.coordinator.SetVolume(req.Volume)
	})
}

// handleSessionFullscreen はフルスクリーン切り替えの実装
func (s *Server) handleSessionFullscreen(c *gin.Context) {
	s.sessionControl(c, s.coordinator.ToggleFullscreen)
}

// handleSessionPiP はピクチャーインピクチャー切り替えの実装
func (s *Server) handleSessionPiP(c *gin.Context) {
	s.sessionControl(c, s.coordinator.TogglePictureInPicture)
}

// sessionControl はセッション操作のエラーをHTTPステータスへ変換する
func (s *Server) sessionControl(c *gin.Context, op func() error) {
	if err := op(); err != nil {
		switch {
		case errors.Is(err, stream.ErrCapabilityUnsupported):
			abortError(c, http.StatusNotImplemented, "capability_unsupported", "プラットフォームがこの機能をサポートしていません")
		case errors.Is(err, stream.ErrNotPlayable):
			abortError(c, http.StatusConflict, "not_playable", "再生操作ができる状態ではありません")
		default:
			abortError(c, http.StatusInternalServerError, "session_error", "セッション操作に失敗しました")
		}
		return
	}
	c.JSON(http.StatusOK, s.coordinator.Status().Session)
}
