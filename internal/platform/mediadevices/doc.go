// Package mediadevices pion/mediadevicesのドライバをカメラランタイムとして提供する
//
// # 責務
// - driver.Manager に登録されたビデオドライバの列挙と特性の取得
// - ドライバのオープン・クローズとデバイスイベントの発行
// - VideoRecord のリーダーから取得したフレームを出力ターゲットへ配信
// - 定期スキャンによる接続・切断の検出
//
// # 仕様
// - リピーティングリクエストは毎フレーム、ディスポーザブルリクエストは次の1フレームを配信する
// - リピーティング停止時はリーダーを止めてドライバを開き直し、完了後にレディを通知する
// - FrameSink を実装していないターゲットには何も書き込まない
// - 向きとセンサー回転はドライバから取得できないため設定で上書きする（既定は外部カメラ・0度）
//
// # 前提要件
//   - ドライバの登録（cmd から github.com/pion/mediadevices/pkg/driver/camera をブランクインポート）
package mediadevices
