package camera

import (
	"context"

	"go.uber.org/zap"
)

// SessionOwner はデバイスハンドルに紐づくセッションの所有者
type SessionOwner interface {
	Close()
}

// SessionFactory はオープン済みのハンドルからセッション所有者を作成する
type SessionFactory func(ctx context.Context, handle DeviceHandle) SessionOwner

// DeviceCallbacks はDeviceから所有者への通知先
type DeviceCallbacks struct {
	Sessions SessionFactory
	OnFatal  func(error)
	OnState  func(DeviceState)
}

// Device はデバイスハンドル1つのライフサイクルを管理する
//
// 全てのメソッドはキュー上で呼び出される。
type Device struct {
	queue     *Queue
	platform  Platform
	profile   Profile
	callbacks DeviceCallbacks
	logger    *zap.Logger

	state        DeviceState
	handle       DeviceHandle
	owner        SessionOwner
	closePending bool
}

// NewDevice は新しいDeviceを作成する
func NewDevice(queue *Queue, platform Platform, profile Profile, callbacks DeviceCallbacks, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		queue:     queue,
		platform:  platform,
		profile:   profile,
		callbacks: callbacks,
		logger:    logger.Named("device").With(zap.String("camera_id", profile.ID())),
		state:     DeviceClosed,
	}
}

// ProfileID は対象のカメラIDを返す
func (d *Device) ProfileID() string {
	return d.profile.ID()
}

// Profile は対象のプロファイルを返す
func (d *Device) Profile() Profile {
	return d.profile
}

// State は現在の状態を返す
func (d *Device) State() DeviceState {
	return d.state
}

// Open はデバイスのオープンを要求する
//
// 同期的に拒否された場合はDeviceAccessErrorを返す。再試行はしない。
func (d *Device) Open() error {
	if d.state != DeviceClosed {
		return nil
	}

	d.setState(DeviceOpening)
	if err := d.platform.OpenDevice(d.profile.ID(), d.queue.WrapDevice(d.onEvent)); err != nil {
		d.setState(DeviceFailed)
		d.logger.Warn("デバイスのオープンが拒否されました", zap.Error(err))
		return &DeviceAccessError{ID: d.profile.ID(), Err: err}
	}
	return nil
}

// Close はデバイスを閉じる。冪等
//
// オープン要求中の場合はオープン完了（またはエラー）まで遅延する。
func (d *Device) Close() {
	switch d.state {
	case DeviceOpening:
		d.closePending = true
	case DeviceOpen:
		d.release()
	}
}

func (d *Device) onEvent(ctx context.Context, ev DeviceEvent) {
	d.logger.Debug("デバイスイベント", zap.Stringer("kind", ev.Kind), zap.Stringer("state", d.state))

	switch ev.Kind {
	case DeviceEventOpened:
		d.handle = ev.Handle
		if d.closePending {
			d.closePending = false
			d.release()
			return
		}
		d.setState(DeviceOpen)
		if d.callbacks.Sessions != nil {
			d.owner = d.callbacks.Sessions(ctx, ev.Handle)
		}

	case DeviceEventDisconnected:
		if ev.Handle != nil {
			d.handle = ev.Handle
		}
		d.release()

	case DeviceEventError:
		if d.state != DeviceOpening && d.state != DeviceOpen {
			return
		}
		if ev.Handle != nil {
			d.handle = ev.Handle
		}
		wasPending := d.closePending
		d.closePending = false
		d.release()
		if ev.Code == ErrorNone || wasPending {
			return
		}
		d.setState(DeviceFailed)
		d.logger.Error("デバイスで致命的なエラーが発生しました", zap.Stringer("code", ev.Code))
		if d.callbacks.OnFatal != nil {
			d.callbacks.OnFatal(&DeviceFatalError{ID: d.profile.ID(), Code: ev.Code})
		}

	case DeviceEventClosed:
		d.handle = nil
		if d.state != DeviceFailed {
			d.setState(DeviceClosed)
		}
	}
}

// release はセッションを破棄してからハンドルを閉じる
func (d *Device) release() {
	if d.state == DeviceClosing || d.state == DeviceClosed || d.state == DeviceFailed {
		return
	}
	if d.owner != nil {
		d.owner.Close()
		d.owner = nil
	}
	d.setState(DeviceClosing)
	if d.handle != nil {
		d.handle.Close()
	}
}

func (d *Device) setState(state DeviceState) {
	if d.state == state {
		return
	}
	d.state = state
	if d.callbacks.OnState != nil {
		d.callbacks.OnState(state)
	}
}
