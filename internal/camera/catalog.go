package camera

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
)

// Catalog はレジストリからプロファイル一覧を構築する
type Catalog struct {
	registry   Registry
	frontFirst bool
}

// NewCatalog は新しいCatalogを作成する
//
// frontFirstがtrueの場合はインカメラを先頭に並べる。
func NewCatalog(registry Registry, frontFirst bool) *Catalog {
	return &Catalog{registry: registry, frontFirst: frontFirst}
}

// Enumerate は全カメラのプロファイルを列挙する
//
// 1台でも特性の取得に失敗した場合は列挙全体を失敗とする。
func (c *Catalog) Enumerate(ctx context.Context) ([]Profile, error) {
	ids, err := c.registry.CameraIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("カメラIDの取得に失敗: %w", err)
	}

	profiles := make([]Profile, 0, len(ids))
	for _, id := range ids {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chars, err := c.registry.Characteristics(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("カメラ %s の特性取得に失敗: %w", id, err)
		}

		profile, err := profileFrom(id, chars)
		if err != nil {
			return nil, fmt.Errorf("カメラ %s のプロファイル構築に失敗: %w", id, err)
		}
		profiles = append(profiles, profile)
	}

	SortProfiles(profiles, c.frontFirst)
	return profiles, nil
}

// profileFrom はデバイス特性を検証してプロファイルを作成する
func profileFrom(id string, chars Characteristics) (Profile, error) {
	rotation, err := RotationFromDegrees(chars.Orientation)
	if err != nil {
		return EmptyProfile, err
	}
	if chars.Facing < FacingFront || chars.Facing > FacingExternal {
		return EmptyProfile, fmt.Errorf("不明なカメラの向き: %d", int(chars.Facing))
	}
	if chars.Level < LevelLegacy || chars.Level > LevelLevel3 {
		return EmptyProfile, fmt.Errorf("不明なハードウェアレベル: %d", int(chars.Level))
	}
	return NewProfile(id, rotation, chars.Facing, chars.Level, chars.YUVSizes, chars.JPEGSizes), nil
}

// facingRank はバイアスに応じた向きの並び順を返す
func facingRank(f Facing, frontFirst bool) int {
	switch f {
	case FacingFront:
		if frontFirst {
			return 0
		}
		return 1
	case FacingBack:
		if frontFirst {
			return 1
		}
		return 0
	default:
		return 2
	}
}

// SortProfiles はプロファイルを決定的な順序に並べ替える
//
// 向き（バイアス順）→ 数値ID → 文字列IDの順に比較する。
func SortProfiles(profiles []Profile, frontFirst bool) {
	sort.SliceStable(profiles, func(i, j int) bool {
		ri, rj := facingRank(profiles[i].facing, frontFirst), facingRank(profiles[j].facing, frontFirst)
		if ri != rj {
			return ri < rj
		}
		return lessID(profiles[i].id, profiles[j].id)
	})
}

func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

// IndexOf はIDが一致するプロファイルの位置を返す。見つからない場合は-1
func IndexOf(profiles []Profile, id string) int {
	return slices.IndexFunc(profiles, func(p Profile) bool { return p.Is(id) })
}
