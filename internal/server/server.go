package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"miharashi/internal/camera"
	"miharashi/internal/config"
	"miharashi/internal/coordinator"
	"miharashi/internal/mapengine"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config      *config.Config
	logger      zerolog.Logger
	manager     camera.Manager
	mapEngine   *mapengine.Engine
	coordinator *coordinator.Coordinator
	hub         *Hub

	router     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager camera.Manager, mapEngine *mapengine.Engine, coord *coordinator.Coordinator, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config:      cfg,
		logger:      logger,
		manager:     manager,
		mapEngine:   mapEngine,
		coordinator: coord,
		hub:         NewHub(logger),
		router:      router,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す（テスト用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		// カメラと選択
		api.GET("/cameras", s.handleCameras)
		api.POST("/cameras/:id/select", s.handleSelectCamera)
		api.DELETE("/selection", s.handleDismiss)

		// 地図操作
		api.GET("/map", s.handleMap)
		api.GET("/map/clusters", s.handleMapClusters)
		api.POST("/map/markers/:id/select", s.handleMarkerSelect)
		api.POST("/map/click", s.handleMapClick)
		api.POST("/map/fit", s.handleMapFit)
		api.PUT("/mode", s.handleSetMode)
		api.POST("/placement/confirm", s.handleConfirmPlacement)

		// 再生セッション
		api.GET("/session", s.handleSession)
		api.POST("/session/play", s.handleSessionPlay)
		api.POST("/session/mute", s.handleSessionMute)
		api.PUT("/session/volume", s.handleSessionVolume)
		api.POST("/session/fullscreen", s.handleSessionFullscreen)
		api.POST("/session/pip", s.handleSessionPiP)
	}

	// イベント配信用WebSocket
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.serveWS(c.Writer, c.Request)
	})
}

// requestLogger はリクエストログを出力するミドルウェア
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("リクエストを処理しました")
	}
}

// Start はサーバーを起動する
// コーディネーターイベントのブロードキャストもここで開始される
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		s.forwardEvents(runCtx)
	}()

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("address", s.config.ServerAddress()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		cancel()
		wg.Wait()
		return err
	}

	cancel()
	wg.Wait()

	// グレースフルシャットダウン
	return s.Shutdown()
}

// forwardEvents はコーディネーターイベントを全WebSocketクライアントへ転送する
func (s *Server) forwardEvents(ctx context.Context) {
	events := s.coordinator.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.hub.Broadcast(Message{Type: string(ev.Type), Data: ev})
		}
	}
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
