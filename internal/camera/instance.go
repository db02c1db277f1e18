package camera

// Instance は選択中のカメラをUIへ公開するスナップショット
//
// 選択が変わるたびに新しいInstanceが発行される。古いInstanceに対する
// ターゲット設定は無視される。
type Instance struct {
	profile    Profile
	index      int
	generation uint64
	pipeline   *Pipeline
}

// Profile は対象のプロファイルを返す
func (i Instance) Profile() Profile {
	return i.profile
}

// Index はカタログ内の位置を返す。未選択の場合は-1
func (i Instance) Index() int {
	return i.index
}

// Generation は発行番号を返す
func (i Instance) Generation() uint64 {
	return i.generation
}

// Next は次のカメラへ切り替える
func (i Instance) Next() error {
	return i.pipeline.Next()
}

// Prev は前のカメラへ切り替える
func (i Instance) Prev() error {
	return i.pipeline.Prev()
}

// SetTargets は出力ターゲットを設定する。nilの場合はセッションを破棄する
func (i Instance) SetTargets(targets []Target) error {
	return i.pipeline.setTargetsFor(i.generation, targets)
}

// ToggleRecord は録画とプレビューを切り替える
func (i Instance) ToggleRecord() error {
	return i.pipeline.ToggleRecord()
}

// Capture は静止画（録画中はスナップショット）を撮影する
func (i Instance) Capture() error {
	return i.pipeline.Capture()
}
