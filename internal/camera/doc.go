// Package camera カメラデバイス・キャプチャセッション・キャプチャリクエストの統合制御を担う
//
// # 責務
// - カメラデバイスの列挙とプロファイル（向き・回転・ハードウェアレベル・出力サイズ）の構築
// - プロファイルの選択と、カタログ変更時の安定した再選択
// - デバイスハンドルのライフサイクル管理（オープン・切断・エラー・クローズ）
// - キャプチャセッションの状態遷移管理（構成・アクティブ・レディ・クローズ）
// - プレビュー／録画／静止画／スナップショットの各リクエストの多重化
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - プラットフォームのカメラランタイムをコールバック駆動で安全に制御したい
// - 録画とプレビューの切り替えや静止画撮影をUIから指示したい
// - デバイスの抜き差しに追従してカメラを自動で再選択したい
//
// # 仕様
// - Pipeline: カタログ・セレクタ・デバイスを束ねる最上位コンポーネント
// - Catalog / Selector: プロファイルの列挙と選択
// - Device: デバイスハンドルの状態機械
// - CaptureSession: セッションの状態機械
// - Multiplexer: リピーティング／ディスポーザブルリクエストの多重化
// - Queue: 全ての操作とコールバックを直列化する単一の実行キュー
// - カメラ状態はキュー上でのみ変更されるためロックを使用しない
// - プラットフォームのコールバックは必ずキューへ再投入される
//
// # 前提要件
//   - Platform インターフェースの実装（internal/platform/mediadevices または MockPlatform）
//   - 出力ターゲットはUI側が用意し、このパッケージは差し替えのみを行う
package camera
