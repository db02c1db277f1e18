// Package server は、カメラパイプラインを操作するHTTPサーバーとWebSocket通信を管理します。
//
// 責務:
//   - HTTPサーバーの起動と管理（gin）
//   - カメラの切替・出力ターゲット設定・録画切替・撮影のコマンド受付
//   - パイプラインのイベント（選択変更・ストリーミング状態・撮影結果・エラー）のWebSocket配信
//   - 最後に撮影した静止画の配信
//
// 仕様:
//   - コマンドはパイプラインのキューに投入した時点で202を返す
//   - キューが満杯の場合は429、パイプライン停止後は503を返す
//   - WebSocketはgorilla/websocketを使用し、送信が追いつかないクライアントは切断する
//   - グレースフルシャットダウンに対応
package server
