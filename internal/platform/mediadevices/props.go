package mediadevices

import (
	"slices"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	"satsuei/internal/camera"
)

// sizesFromProperties はドライバのプロパティを出力サイズに分類する
//
// MJPEGはJPEG出力、それ以外の形式はYUV出力として扱う。重複は除く。
func sizesFromProperties(props []prop.Media) (yuv, jpeg []camera.Size) {
	for _, p := range props {
		if p.Width <= 0 || p.Height <= 0 {
			continue
		}
		size := camera.Size{Width: p.Width, Height: p.Height}
		if p.FrameFormat == frame.FormatMJPEG {
			if !slices.Contains(jpeg, size) {
				jpeg = append(jpeg, size)
			}
			continue
		}
		if !slices.Contains(yuv, size) {
			yuv = append(yuv, size)
		}
	}
	return yuv, jpeg
}

// levelFor は最大解像度からハードウェアレベルを推定する
func levelFor(groups ...[]camera.Size) camera.Level {
	var pixels int64
	for _, sizes := range groups {
		for _, s := range sizes {
			pixels = max(pixels, s.Area())
		}
	}

	switch {
	case pixels >= 3840*2160:
		return camera.LevelLevel3
	case pixels >= 1920*1080:
		return camera.LevelFull
	case pixels >= 1280*720:
		return camera.LevelLimited
	default:
		return camera.LevelLegacy
	}
}

// selectProperty はリクエストの希望サイズに最も近いプロパティを選ぶ
//
// 希望サイズが指定されていない場合は最初のプロパティを使う。
func selectProperty(props []prop.Media, want camera.Size, jpeg bool) (prop.Media, bool) {
	if len(props) == 0 {
		return prop.Media{}, false
	}

	candidates := make([]prop.Media, 0, len(props))
	for _, p := range props {
		if (p.FrameFormat == frame.FormatMJPEG) == jpeg {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = props
	}
	if want.IsEmpty() || want == (camera.Size{}) {
		return candidates[0], true
	}

	sizes := make([]camera.Size, 0, len(candidates))
	for _, p := range candidates {
		sizes = append(sizes, camera.Size{Width: p.Width, Height: p.Height})
	}
	slices.SortStableFunc(sizes, func(a, b camera.Size) int {
		switch {
		case a.Area() < b.Area():
			return -1
		case a.Area() > b.Area():
			return 1
		default:
			return 0
		}
	})
	best, ok := camera.BestFit(sizes, want)
	if !ok {
		return candidates[0], true
	}
	for _, p := range candidates {
		if p.Width == best.Width && p.Height == best.Height {
			return p, true
		}
	}
	return candidates[0], true
}
