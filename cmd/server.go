// Package main はMiharashiサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
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
	// コマンドラインオプション
	var (
		host      = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port      = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		directory = flag.String("directory", "", "カメラディレクトリサービスのURL")
		help      = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Miharashi")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *directory != "" {
		cfg.Directory.BaseURL = *directory
	}

	root := logging.Setup(cfg.Log)
	logger := logging.Component(root, "main")
	ctx := context.Background()

	// カメラコレクション
	dir := camera.NewHTTPDirectory(cfg.Directory.BaseURL, logging.Component(root, "directory"))
	manager := camera.NewDefaultManager(dir, cfg.Directory.PollInterval, logging.Component(root, "camera"))
	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("カメラマネージャーの起動に失敗しました")
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
		logger.Fatal().Err(err).Msg("コーディネーターの起動に失敗しました")
	}
	defer func() { _ = coord.Stop(ctx) }()

	// サーバーを起動
	logger.Info().Str("address", cfg.ServerAddress()).Msg("Miharashi サーバーを起動します")
	srv := server.New(cfg, manager, mapEngine, coord, logging.Component(root, "server"))
	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("サーバーの起動に失敗しました")
	}
}
