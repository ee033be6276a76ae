// Package camera カメラディレクトリの取得とスナップショット管理を担う
//
// # 責務
// - 外部カメラディレクトリサービスからのカメラ一覧取得
// - カメラコレクションの不変スナップショットとしての保持
// - 定期ポーリングによるコレクション置き換えの検出と購読者への通知
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 現在のカメラ一覧を読み取り専用で参照したい
// - コレクションの置き換えを購読してマーカー再同期などを行いたい
//
// # 仕様
// - Camera: 外部サービスが所有するレコードの読み取り専用ビュー
//   コアはフィールドを変更せず、コレクション全体の置き換えのみを観測する
// - Snapshot: 置き換え単位の不変コレクション（ID重複なし）
// - Directory: 一覧取得のインターフェース（HTTP実装とモック実装）
// - Manager: ポーリングとスナップショット通知の統合管理
// - レコードの永続化・作成・更新・削除は外部サービスの責務であり対象外
package camera
