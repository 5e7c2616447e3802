package network

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/quadtree"
	"github.com/samber/lo"
)

// 步行换乘生成参数
type FootpathOptions struct {
	WalkingSpeed float64 // m/s
	MaxDuration  int32   // s
	// 直线距离到路网距离的放大系数，<1按1处理
	DetourFactor float64
}

func DefaultFootpathOptions() FootpathOptions {
	return FootpathOptions{
		WalkingSpeed: 1.4,
		MaxDuration:  10 * 60,
		DetourFactor: 1,
	}
}

type stopPointer struct {
	idx int
	p   orb.Point
}

func (s stopPointer) Point() orb.Point {
	return s.p
}

// GenerateFootpaths 为步行可达(speed*duration以内)的站点对生成步行换乘边
// 已存在的换乘边(任意方式)不会重复生成
func GenerateFootpaths(snap *Snapshot, opts FootpathOptions) ([]TransferRecord, error) {
	if opts.WalkingSpeed <= 0 {
		return nil, fmt.Errorf("walking speed must be positive, got %v", opts.WalkingSpeed)
	}
	if opts.MaxDuration <= 0 {
		return nil, fmt.Errorf("max walking duration must be positive, got %v", opts.MaxDuration)
	}
	if len(snap.Stops) < 2 {
		return nil, nil
	}
	detour := max(opts.DetourFactor, 1)
	maxBeeline := opts.WalkingSpeed * float64(opts.MaxDuration) / detour

	points := lo.Map(snap.Stops, func(s StopRecord, _ int) orb.Point {
		return orb.Point{s.Lon, s.Lat}
	})
	qt := quadtree.New(orb.MultiPoint(points).Bound().Pad(1e-6))
	for i, p := range points {
		if err := qt.Add(stopPointer{idx: i, p: p}); err != nil {
			return nil, fmt.Errorf("index stop %q: %w", snap.Stops[i].ID, err)
		}
	}
	existing := make(map[[2]string]struct{}, len(snap.Transfers))
	for _, t := range snap.Transfers {
		existing[[2]string{t.From, t.To}] = struct{}{}
	}

	var out []TransferRecord
	var buf []orb.Pointer
	for i, p := range points {
		buf = qt.InBound(buf[:0], geo.NewBoundAroundPoint(p, maxBeeline))
		sort.Slice(buf, func(a, b int) bool {
			return buf[a].(stopPointer).idx < buf[b].(stopPointer).idx
		})
		for _, ptr := range buf {
			j := ptr.(stopPointer).idx
			if j == i {
				continue
			}
			beeline := geo.Distance(p, points[j])
			if beeline > maxBeeline {
				continue
			}
			from, to := snap.Stops[i].ID, snap.Stops[j].ID
			if _, ok := existing[[2]string{from, to}]; ok {
				continue
			}
			walk := beeline * detour
			out = append(out, TransferRecord{
				From:     from,
				To:       to,
				Mode:     ModeFoot.String(),
				Duration: int32(walk / opts.WalkingSpeed),
				Distance: int32(walk + 0.5),
			})
		}
	}
	return out, nil
}

// AddFootpaths 生成步行换乘并追加到快照中，返回新增数量
func AddFootpaths(snap *Snapshot, opts FootpathOptions) (int, error) {
	generated, err := GenerateFootpaths(snap, opts)
	if err != nil {
		return 0, err
	}
	snap.Transfers = append(snap.Transfers, generated...)
	log.Infof("generated %d footpaths (speed=%.2fm/s, max=%ds)", len(generated), opts.WalkingSpeed, opts.MaxDuration)
	return len(generated), nil
}
