package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"miharashi/internal/camera"
	"miharashi/internal/config"
	"miharashi/internal/coordinator"
	"miharashi/internal/geo"
	"miharashi/internal/logging"
	"miharashi/internal/mapengine"
	"miharashi/internal/marker"
	"miharashi/internal/server"
	"miharashi/internal/stream"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "サーバーの起動に失敗しました: %v\n", err)
		os.Exit(1)
	}
}

// run は全コンポーネントを組み立ててサーバーを起動する
func run(cfg *config.Config) error {
	root := logging.Setup(cfg.Log)
	ctx := context.Background()

	// カメラコレクション
	directory := camera.NewHTTPDirectory(cfg.Directory.BaseURL, logging.Component(root, "directory"))
	manager := camera.NewDefaultManager(directory, cfg.Directory.PollInterval, logging.Component(root, "camera"))
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = manager.Stop(ctx) }()

	// 地図と逆ジオコーディング
	resolver := geo.NewNominatimResolver(
		geo.WithBaseURL(cfg.Geocode.BaseURL),
		geo.WithLanguage(cfg.Geocode.Language),
		geo.WithHTTPClient(&http.Client{Timeout: cfg.Geocode.Timeout}),
	)
	mapCfg := mapengine.DefaultConfig()
	mapCfg.Center = geo.Coordinate{Lat: cfg.Map.CenterLat, Lng: cfg.Map.CenterLng}
	mapCfg.Zoom = cfg.Map.Zoom
	mapCfg.ClickToleranceDeg = cfg.Map.ClickToleranceDeg
	mapCfg.FocusSettleDelay = cfg.Map.FocusSettleDelay
	mapEngine := mapengine.NewEngine(marker.NewSet(), resolver, logging.Component(root, "map"), mapCfg)
	defer mapEngine.Close()

	// ストリーム再生とコーディネーター
	factory := &stream.HLSEngineFactory{Client: &http.Client{Timeout: cfg.Stream.ManifestTimeout}}
	coord := coordinator.New(manager, mapEngine, factory, logging.Component(root, "coordinator"),
		coordinator.WithAutofillOnReplace(cfg.Map.AutofillOnReplace),
		coordinator.WithSessionOptions(stream.WithAutoplay(cfg.Stream.Autoplay)),
	)
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = coord.Stop(ctx) }()

	// サーバーを起動（シグナルかコンテキストのキャンセルまでブロックする）
	srv := server.New(cfg, manager, mapEngine, coord, logging.Component(root, "server"))
	return srv.Start(ctx)
}
