package camera

import (
	"fmt"
	"slices"
	"sort"
)

// Size は出力サイズを表す
type Size struct {
	Width  int
	Height int
}

// EmptySize はサイズ未指定を表す
var EmptySize = Size{Width: -1, Height: -1}

// IsEmpty はEmptySizeかどうかを返す
func (s Size) IsEmpty() bool {
	return s == EmptySize
}

// Area は面積を返す
func (s Size) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

// Swap は幅と高さを入れ替えたサイズを返す
func (s Size) Swap() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// Vertical は縦長かどうかを返す
func (s Size) Vertical() bool {
	return s.Height > s.Width
}

// DistanceSquared は2つのサイズのユークリッド距離の二乗を返す
func (s Size) DistanceSquared(other Size) int64 {
	dw := int64(s.Width) - int64(other.Width)
	dh := int64(s.Height) - int64(other.Height)
	return dw*dw + dh*dh
}

// String は "WxH" 形式の文字列を返す
func (s Size) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// BestFit は目標サイズとの距離が最小の候補を返す
//
// 同距離の場合は先に現れた候補（面積の昇順）を採用する。
// プラットフォーム側の丸め挙動と一致させる必要がある。
func BestFit(candidates []Size, target Size) (Size, bool) {
	if len(candidates) == 0 {
		return EmptySize, false
	}

	best := candidates[0]
	bestDistance := best.DistanceSquared(target)
	for _, candidate := range candidates[1:] {
		if d := candidate.DistanceSquared(target); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best, true
}

// sortByArea はサイズを面積の昇順に並べ替えたコピーを返す
func sortByArea(sizes []Size) []Size {
	sorted := slices.Clone(sizes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Area() < sorted[j].Area()
	})
	return sorted
}

// Rotation はセンサーの回転を表す
type Rotation int

const (
	Rotation0   Rotation = iota // 0度
	Rotation90                  // 90度
	Rotation180                 // 180度
	Rotation270                 // 270度
)

// Degrees は回転角度を返す
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// String は回転角度の文字列を返す
func (r Rotation) String() string {
	return fmt.Sprintf("%d", r.Degrees())
}

// RotationFromDegrees は角度から回転を求める
func RotationFromDegrees(degrees int) (Rotation, error) {
	switch degrees {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	default:
		return Rotation0, fmt.Errorf("無効なセンサー回転: %d", degrees)
	}
}

// Facing はカメラの向きを表す
type Facing int

const (
	FacingFront    Facing = iota // インカメラ
	FacingBack                   // メインカメラ
	FacingExternal               // 外部カメラ
)

// String は向きの名前を返す
func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	case FacingExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ParseFacing は文字列から向きを求める
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "front":
		return FacingFront, nil
	case "back":
		return FacingBack, nil
	case "external", "":
		return FacingExternal, nil
	default:
		return FacingExternal, fmt.Errorf("無効なカメラの向き: %q", s)
	}
}

// Level はハードウェアのサポートレベルを表す
type Level int

const (
	LevelLegacy  Level = iota // 後方互換モード
	LevelLimited              // FULLに満たない
	LevelFull                 // 高度な撮影に対応
	LevelLevel3               // YUV再処理とRAW出力に対応
)

// String はレベルの名前を返す
func (l Level) String() string {
	switch l {
	case LevelLegacy:
		return "legacy"
	case LevelLimited:
		return "limited"
	case LevelFull:
		return "full"
	case LevelLevel3:
		return "level3"
	default:
		return "unknown"
	}
}

// Profile は物理カメラ1台の不変な記述子
type Profile struct {
	id        string
	rotation  Rotation
	facing    Facing
	level     Level
	yuvSizes  []Size
	jpegSizes []Size
}

// EmptyProfile はカメラ未選択を表す
var EmptyProfile = Profile{id: "-1", rotation: Rotation0, facing: FacingExternal, level: LevelLegacy}

// NewProfile は新しいProfileを作成する
//
// サイズは面積の昇順に並べ替えてコピーされる。
func NewProfile(id string, rotation Rotation, facing Facing, level Level, yuvSizes, jpegSizes []Size) Profile {
	return Profile{
		id:        id,
		rotation:  rotation,
		facing:    facing,
		level:     level,
		yuvSizes:  sortByArea(yuvSizes),
		jpegSizes: sortByArea(jpegSizes),
	}
}

// ID はカメラIDを返す
func (p Profile) ID() string { return p.id }

// Rotation はセンサー回転を返す
func (p Profile) Rotation() Rotation { return p.rotation }

// Facing はカメラの向きを返す
func (p Profile) Facing() Facing { return p.facing }

// Level はハードウェアレベルを返す
func (p Profile) Level() Level { return p.level }

// YUVSizes はYUV出力サイズのコピーを返す
func (p Profile) YUVSizes() []Size { return slices.Clone(p.yuvSizes) }

// JPEGSizes はJPEG出力サイズのコピーを返す
func (p Profile) JPEGSizes() []Size { return slices.Clone(p.jpegSizes) }

// IsEmpty はEmptyProfileかどうかを返す
func (p Profile) IsEmpty() bool {
	return p.id == EmptyProfile.id
}

// Is はカメラIDが一致するかどうかを返す
func (p Profile) Is(id string) bool {
	return p.id == id
}

// Equal は構造的に等しいかどうかを返す
func (p Profile) Equal(other Profile) bool {
	return p.facing == other.facing &&
		p.rotation == other.rotation &&
		p.level == other.level &&
		slices.Equal(p.yuvSizes, other.yuvSizes) &&
		slices.Equal(p.jpegSizes, other.jpegSizes)
}

// YUV は目標に最も近いYUV出力サイズを返す
func (p Profile) YUV(target Size) (Size, bool) {
	return BestFit(p.yuvSizes, target)
}

// JPEG は目標に最も近いJPEG出力サイズを返す
func (p Profile) JPEG(target Size) (Size, bool) {
	return BestFit(p.jpegSizes, target)
}

// String はプロファイルの概要を返す
func (p Profile) String() string {
	if p.IsEmpty() {
		return "Profile{empty}"
	}
	return fmt.Sprintf("Profile{id=%s, facing=%s, rotation=%s, level=%s}", p.id, p.facing, p.rotation, p.level)
}
