// Package logging zerologベースの構造化ログの初期化を担う
//
// # 責務
// - ルートロガーの構築（レベル・フォーマット・呼び出し元の設定）
// - コンポーネント名付きの子ロガーの払い出し
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 起動時にルートロガーを1つ作り、各コンポーネントへ渡したい
//
// # 仕様
// - フォーマットはjson（運用向け）とconsole（開発向け）の2種類
// - 不明なレベル指定はinfoにフォールバックする
// - グローバルロガーは持たず、依存として明示的に受け渡す
package logging
