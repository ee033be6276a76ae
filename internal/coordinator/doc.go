// Package coordinator 地図選択とストリーム再生セッションの整合を担う
//
// # 責務
// - 最上位の状態機械（Browsing / Viewing / Placing）の維持
// - 唯一のStreamSessionの排他的な所有（他コンポーネントは開閉できない）
// - 地図イベントとカメラコレクション置き換えの購読と反映
// - 外部コラボレーターへのイベント（cameraSelected /
//   coordinateSelected / sessionStateChanged）の発行
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラ選択から再生開始までの一連の流れを1箇所で制御したい
// - 配置モードと閲覧・再生の相互排他を保証したい
//
// # 仕様
// - cameraSelected: Browsing（または別カメラのViewing）→ Viewing へ遷移し
//   StreamSession.Openを呼ぶ。直前のセッションは必ず先に閉じられる
// - 閉じる操作: Viewing → Browsing へ遷移しStreamSession.Closeを呼ぶ
// - coordinateSelected はPlacing中のみ意味を持ち、状態は変えず
//   外部フォームへ転送される
// - Placingへの遷移は開いているセッションを先に閉じる
//   （配置作業中の帯域消費を避けるため再生と相互排他）
// - コレクション置き換えで視聴中のカメラIDが消えた場合、
//   強制的にBrowsingへ戻しセッションを閉じる
// - 配置時の地名自動入力は作成時のみ／常時のいずれかをポリシーとして設定できる
package coordinator
