// Package server は、HTTPサーバーとWebSocket通信を管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// WebSocket接続の管理、コーディネーターイベントの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 地図・セッション操作のAPIエンドポイント
//   - WebSocket接続の確立と管理
//   - コーディネーターイベントの全クライアントへのブロードキャスト
//
// 仕様:
//   - ルーティングはginを使用
//   - WebSocketはgorilla/websocketを使用
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
