// Package geo 座標と逆ジオコーディングを担う
//
// # 責務
// - 緯度・経度ペアの表現と検証
// - 外部逆ジオコーディングサービス（Nominatim）による地名解決
// - 地名が得られない場合の固定精度フォールバックラベルの生成
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 地図クリックで得た生の座標を人間可読な地名に変換したい
// - 座標の妥当性（有限値・地理的範囲）を検証したい
//
// # 仕様
// - Resolver: 逆ジオコーディングのインターフェース
// - NominatimResolver: Nominatim APIを使った実装
//   住所要素を road → suburb/village → town/city → state の優先順で採用し
//   ", " で連結する
// - 失敗時（ネットワークエラー・非2xx・不正なボディ・キャンセル）は
//   常に固定6桁精度の「lat, lng」フォールバックに解決される
//   呼び出し側が失敗状態を観測することはない
// - 外部呼び出しはサーキットブレーカー（gobreaker）で保護される
package geo
