// Package mapengine 地図ビューポートとクリック操作の統合を担う
//
// # 責務
// - 地図ビューポート（中心・ズーム）の所有
// - クリックのルーティング（閲覧モード・配置モード）
// - 逆ジオコーディングの発行と古い結果の破棄
// - カメラ選択・座標選択の型付きイベントの発行
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 地図クリックをカメラ選択または座標確定へ変換したい
// - サイドバーなど地図外からの選択を地図へ視覚的に反映したい（Focus）
//
// # 仕様
// - 配置モードのクリックは即座に配置マーカーを置き（楽観的・同期）、
//   その後非同期で地名を解決して coordinateSelected を発行する
// - 逆ジオコーディングは単調増加の世代カウンタで管理され、
//   新しいクリックに追い越された結果は適用されない
// - 閲覧モードのクリックは近傍のカメラマーカーに解決された場合のみ
//   cameraSelected を発行し、空白地点のクリックは無視される
// - ポップアップからの操作は型付きイベントで通知される
//   （グローバル関数ブリッジは使わない）
// - Closeは取得した全リソース（タイマー・未完了ルックアップ）を
//   逆順で確実に解放する
package mapengine
