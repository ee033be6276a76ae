// Package stream アダプティブストリーミング再生セッションのライフサイクルを担う
//
// # 責務
// - 1つの再生アタッチメントのライフサイクル管理（ロード・再生・停止・解放）
// - 再生状態の状態機械の維持と状態変化の通知
// - 音量・ミュート・フルスクリーン・ピクチャーインピクチャーの制御
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 選択されたカメラの配信を1本だけ再生したい
// - 再生状態の変化を購読してUIへ反映したい
//
// # 仕様
// - 状態機械: Idle → Loading → Playing ⇄ Paused
//   Loading/Playing/Paused → Error、任意の状態 → Closed（終端）
//   カメラがオフラインの場合はLoadingの代わりに即Offlineへ入り
//   ネットワークアタッチは行わない
// - Openは必ず直前のアタッチメントを完全に解放してから新しいアタッチを開始する
//   （アタッチメントが2つ同時に生きることはない）
// - マニフェスト準備完了でautoplayならPlaying（ミュート開始）、でなければIdle
// - エンジンエラーでErrorへ遷移。セッションは開いたままだが再生は止まり
//   自動リトライは行わない
// - Close中・Close後に届く遅延イベントは世代トークンで破棄される
// - Engine: アタッチメントの抽象。HLSEngineはプレイリストURIを取得して
//   マニフェスト準備完了を判定する。MockEngineはテスト用
package stream
