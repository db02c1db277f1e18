package camera

import "testing"

func makeProfiles(ids ...string) []Profile {
	profiles := make([]Profile, 0, len(ids))
	for _, id := range ids {
		profiles = append(profiles, NewProfile(id, Rotation0, FacingBack, LevelFull, nil, nil))
	}
	return profiles
}

func TestReselect(t *testing.T) {
	tests := []struct {
		name      string
		profiles  []Profile
		previous  *Selected
		wantNil   bool
		wantIndex int
		wantID    string
	}{
		{
			name:     "空のカタログ",
			profiles: nil,
			previous: &Selected{Index: 0, Profile: makeProfiles("0")[0]},
			wantNil:  true,
		},
		{
			name:      "初回は先頭",
			profiles:  makeProfiles("0", "1"),
			previous:  nil,
			wantIndex: 0,
			wantID:    "0",
		},
		{
			name:      "IDが残っていれば新しい位置へ追従",
			profiles:  makeProfiles("a", "0", "1"),
			previous:  &Selected{Index: 1, Profile: makeProfiles("1")[0]},
			wantIndex: 2,
			wantID:    "1",
		},
		{
			name:      "先頭へ移動したIDにも追従",
			profiles:  makeProfiles("1", "2"),
			previous:  &Selected{Index: 1, Profile: makeProfiles("1")[0]},
			wantIndex: 0,
			wantID:    "1",
		},
		{
			name:      "IDが消えたら同じ位置",
			profiles:  makeProfiles("0", "2", "3"),
			previous:  &Selected{Index: 1, Profile: makeProfiles("1")[0]},
			wantIndex: 1,
			wantID:    "2",
		},
		{
			name:      "位置が範囲外なら末尾",
			profiles:  makeProfiles("0", "1"),
			previous:  &Selected{Index: 4, Profile: makeProfiles("4")[0]},
			wantIndex: 1,
			wantID:    "1",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Reselect(tt.profiles, tt.previous)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("Expected nil selection, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected selection, got nil")
			}
			if got.Index != tt.wantIndex || got.Profile.ID() != tt.wantID {
				t.Errorf("Expected (%d, %s), got (%d, %s)", tt.wantIndex, tt.wantID, got.Index, got.Profile.ID())
			}
		})
	}
}

func TestSelector_RefreshEmits(t *testing.T) {
	var emitted []string
	s := NewSelector(func(p Profile) { emitted = append(emitted, p.ID()) })

	s.Refresh(makeProfiles("0", "1"))
	s.Refresh(nil)

	want := []string{"0", "-1"}
	if !equalStrings(emitted, want) {
		t.Errorf("Expected %v, got %v", want, emitted)
	}
	if _, ok := s.Current(); ok {
		t.Error("Expected no selection after empty refresh")
	}
}

func TestSelector_AdvanceWraps(t *testing.T) {
	var emitted []string
	s := NewSelector(func(p Profile) { emitted = append(emitted, p.ID()) })
	s.Refresh(makeProfiles("0", "1", "2"))

	s.Advance(false) // 0 → 2
	s.Advance(true)  // 2 → 0
	s.Advance(true)  // 0 → 1

	want := []string{"0", "2", "0", "1"}
	if !equalStrings(emitted, want) {
		t.Errorf("Expected %v, got %v", want, emitted)
	}

	current, ok := s.Current()
	if !ok || current.Index != 1 {
		t.Errorf("Expected index 1, got %+v", current)
	}
}

func TestSelector_AdvanceNoopWithFewProfiles(t *testing.T) {
	calls := 0
	s := NewSelector(func(Profile) { calls++ })

	// カタログなし
	s.Advance(true)
	if calls != 0 {
		t.Errorf("Expected no emission without catalog, got %d", calls)
	}

	s.Refresh(makeProfiles("0"))
	s.Advance(true)
	s.Advance(false)
	if calls != 1 {
		t.Errorf("Expected only the refresh emission, got %d", calls)
	}
}

func TestSelector_RefreshKeepsSelection(t *testing.T) {
	s := NewSelector(nil)
	s.Refresh(makeProfiles("0", "1", "2"))
	s.Advance(true)

	// 先頭にカメラが追加されても選択中のIDを維持する
	s.Refresh(makeProfiles("9", "0", "1", "2"))
	current, _ := s.Current()
	if current.Profile.ID() != "1" || current.Index != 2 {
		t.Errorf("Expected (2, 1), got (%d, %s)", current.Index, current.Profile.ID())
	}
}
