package camera

import "slices"

// Selected は選択中のプロファイルとその位置
type Selected struct {
	Index   int
	Profile Profile
}

// Reselect はカタログ更新後の選択を導出する
//
// 以前のIDが残っていればその新しい位置、なければ以前の位置（範囲内の場合）、
// それも範囲外なら末尾を選択する。カタログが空の場合はnilを返す。
func Reselect(profiles []Profile, previous *Selected) *Selected {
	if len(profiles) == 0 {
		return nil
	}
	if previous == nil {
		return &Selected{Index: 0, Profile: profiles[0]}
	}

	if index := IndexOf(profiles, previous.Profile.ID()); index >= 0 {
		return &Selected{Index: index, Profile: profiles[index]}
	}
	if previous.Index >= 0 && previous.Index < len(profiles) {
		return &Selected{Index: previous.Index, Profile: profiles[previous.Index]}
	}
	last := len(profiles) - 1
	return &Selected{Index: last, Profile: profiles[last]}
}

// Selector はプロファイルの選択状態を管理する
//
// キュー上でのみ操作される。
type Selector struct {
	profiles []Profile
	current  *Selected
	listener func(Profile)
}

// NewSelector は新しいSelectorを作成する
//
// listenerには選択が変わるたびにプロファイル（未選択の場合はEmptyProfile）が渡される。
func NewSelector(listener func(Profile)) *Selector {
	return &Selector{listener: listener}
}

// Refresh はカタログを差し替えて選択を再導出する
func (s *Selector) Refresh(profiles []Profile) {
	s.profiles = slices.Clone(profiles)
	s.current = Reselect(s.profiles, s.current)
	s.emit()
}

// Advance は次（forward=true）または前のプロファイルを選択する
//
// プロファイルが2つ未満の場合は何もしない。
func (s *Selector) Advance(forward bool) {
	size := len(s.profiles)
	if size < 2 || s.current == nil {
		return
	}

	step := 1
	if !forward {
		step = -1
	}
	index := ((s.current.Index+step)%size + size) % size
	s.current = &Selected{Index: index, Profile: s.profiles[index]}
	s.emit()
}

// Current は現在の選択を返す
func (s *Selector) Current() (Selected, bool) {
	if s.current == nil {
		return Selected{Index: -1, Profile: EmptyProfile}, false
	}
	return *s.current, true
}

// Profiles は現在のカタログのコピーを返す
func (s *Selector) Profiles() []Profile {
	return slices.Clone(s.profiles)
}

func (s *Selector) emit() {
	if s.listener == nil {
		return
	}
	if s.current == nil {
		s.listener(EmptyProfile)
		return
	}
	s.listener(s.current.Profile)
}
