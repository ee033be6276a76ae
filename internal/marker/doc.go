// Package marker 地図マーカーコレクションの管理を担う
//
// # 責務
// - カメラコレクションと1:1対応するカメラマーカーの保持
// - 選択マーカー・配置マーカー（各高々1つ）の管理
// - スナップショット置き換え時のマーカー再同期
// - ズームレベルに応じたマーカーのクラスタリング
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラコレクションの置き換えをマーカーへ反映したい
// - 近傍のカメラマーカーを検索したい
// - 低ズームでマーカーをクラスタ化して表示したい
//
// # 仕様
// - Marker: 種別付きのマーカー（KindCamera / KindSelection / KindPlacement）
//   種別ごとに明示的な描画関数（View）を持ち、文字列テンプレートによる
//   振る舞いの注入は行わない
// - Synchronize はID単位で厳密に照合する
//   消えたIDのマーカーは除去、新しいIDは追加、残ったIDは同一実体のまま
//   位置と色だけを更新する（開いているポップアップは閉じない）
// - クラスタリングは表示専用であり、マーカーの同一性や
//   Synchronize のセマンティクスに影響しない
// - 外部ネットワーク呼び出しは行わない
package marker
