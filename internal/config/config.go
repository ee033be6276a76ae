package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"miharashi/internal/logging"
)

// 設定ファイルの探索パス。先に見つかったものが使われる
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/miharashi/config.yaml",
	"/etc/miharashi/config.yml",
}

// configPathEnvVar は設定ファイルのパスを上書きする環境変数
const configPathEnvVar = "MIHARASHI_CONFIG"

// envPrefix は環境変数の接頭辞。
// セクションの区切りは二重アンダースコア（例: MIHARASHI_SERVER__PORT）
const envPrefix = "MIHARASHI_"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Map       MapConfig       `koanf:"map"`
	Geocode   GeocodeConfig   `koanf:"geocode"`
	Stream    StreamConfig    `koanf:"stream"`
	Directory DirectoryConfig `koanf:"directory"`
	Log       logging.Config  `koanf:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `koanf:"host"` // リッスンするホスト
	Port int    `koanf:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `koanf:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `koanf:"write_timeout"` // 書き込みタイムアウト
}

// MapConfig は地図の設定
type MapConfig struct {
	CenterLat float64 `koanf:"center_lat"` // 初期表示の中心緯度
	CenterLng float64 `koanf:"center_lng"` // 初期表示の中心経度
	Zoom      int     `koanf:"zoom"`       // 初期ズームレベル

	// クリックをマーカーに解決する許容範囲（度）
	ClickToleranceDeg float64 `koanf:"click_tolerance_deg"`

	// フォーカス後にポップアップを開くまでの整定待ち時間
	FocusSettleDelay time.Duration `koanf:"focus_settle_delay"`

	// 既存カメラの再配置時にも地名を自動入力するか
	// （新規作成時は常に自動入力される）
	AutofillOnReplace bool `koanf:"autofill_on_replace"`
}

// GeocodeConfig は逆ジオコーディングの設定
type GeocodeConfig struct {
	BaseURL  string        `koanf:"base_url"` // NominatimのベースURL
	Language string        `koanf:"language"` // 結果の言語（Accept-Language）
	Timeout  time.Duration `koanf:"timeout"`  // 1回のルックアップのタイムアウト
}

// StreamConfig はストリーム再生の設定
type StreamConfig struct {
	Autoplay        bool          `koanf:"autoplay"`         // マニフェスト準備完了時に自動再生するか
	ManifestTimeout time.Duration `koanf:"manifest_timeout"` // マニフェスト取得のタイムアウト
}

// DirectoryConfig はカメラディレクトリサービスの設定
type DirectoryConfig struct {
	BaseURL      string        `koanf:"base_url"`      // ディレクトリサービスのベースURL
	PollInterval time.Duration `koanf:"poll_interval"` // 一覧の再取得間隔（0で無効）
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Map: MapConfig{
			// Banda Aceh中心
			CenterLat:         5.5526,
			CenterLng:         95.3162,
			Zoom:              12,
			ClickToleranceDeg: 0.0005,
			FocusSettleDelay:  time.Second,
			AutofillOnReplace: false,
		},
		Geocode: GeocodeConfig{
			BaseURL:  "https://nominatim.openstreetmap.org",
			Language: "id",
			Timeout:  10 * time.Second,
		},
		Stream: StreamConfig{
			Autoplay:        true,
			ManifestTimeout: 15 * time.Second,
		},
		Directory: DirectoryConfig{
			BaseURL:      "http://localhost:3000",
			PollInterval: time.Minute,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル → 環境変数の順で重ねる
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("デフォルト設定の読み込みに失敗: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗 (%s): %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Map.Zoom < 1 || c.Map.Zoom > 19 {
		return fmt.Errorf("無効なズームレベル: %d", c.Map.Zoom)
	}
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("ディレクトリサービスのURLが設定されていません")
	}
	if c.Directory.PollInterval < 0 {
		return fmt.Errorf("無効なポーリング間隔: %s", c.Directory.PollInterval)
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// findConfigFile は設定ファイルを探す。見つからなければ空文字を返す
func findConfigFile() string {
	if path := os.Getenv(configPathEnvVar); path != "" {
		return path
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform は環境変数名をkoanfのパスへ変換する
// 例: MIHARASHI_MAP__AUTOFILL_ON_REPLACE → map.autofill_on_replace
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
