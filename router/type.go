package router

import (
	"errors"
	"fmt"
	"time"

	"git.fiblab.net/sim/accessibility/network"
	"git.fiblab.net/sim/accessibility/router/algo"
)

var (
	// 错误：时间窗起点晚于终点
	ErrInvalidWindow = errors.New("invalid time window")
	// 错误：步长不为正
	ErrInvalidStep = errors.New("departure step must be at least one second")
	// 错误：换乘次数为负
	ErrInvalidTransfers = errors.New("max transfers must not be negative")
)

// TimeRange 出发时间窗[Start, End]，单位为距服务日开始的秒数
type TimeRange struct {
	Start int32
	End   int32
}

func (w TimeRange) Validate() error {
	if w.Start < 0 || w.End < w.Start || w.End >= algo.Infinity {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

func (w TimeRange) Contains(t int32) bool {
	return t >= w.Start && t <= w.End
}

func (w TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", algo.FormatClock(w.Start), algo.FormatClock(w.End))
}

// 土地利用得分的计入方式
type LandUseMode int8

const (
	// 标签取所在站点的得分
	LandUsePositional LandUseMode = iota
	// 起点及每个经步行、骑行或下车到达的站点得分之和
	LandUseCumulative
)

func (m LandUseMode) String() string {
	if m == LandUseCumulative {
		return "cumulative"
	}
	return "positional"
}

func ParseLandUseMode(s string) (LandUseMode, error) {
	switch s {
	case "", "positional":
		return LandUsePositional, nil
	case "cumulative":
		return LandUseCumulative, nil
	default:
		return LandUsePositional, fmt.Errorf("unknown land use mode %q", s)
	}
}

// 出发时刻的枚举方式
type DepartureMode int8

const (
	// 从窗口起点按步长枚举
	DepartureSteps DepartureMode = iota
	// 只取起点及其接驳站点上的实际发车时刻，外加窗口两端
	DepartureTrips
)

func (m DepartureMode) String() string {
	if m == DepartureTrips {
		return "trips"
	}
	return "steps"
}

func ParseDepartureMode(s string) (DepartureMode, error) {
	switch s {
	case "", "steps":
		return DepartureSteps, nil
	case "trips":
		return DepartureTrips, nil
	default:
		return DepartureSteps, fmt.Errorf("unknown departure mode %q", s)
	}
}

// 一次运行的结束状态
type Status int8

const (
	// 某一轮没有新标签被接受
	StatusConverged Status = iota
	// 达到轮数上限
	StatusRoundLimit
	// 超出时间预算
	StatusTimeLimit
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "converged"
	case StatusRoundLimit:
		return "round_limit"
	case StatusTimeLimit:
		return "time_limit"
	default:
		return "unknown"
	}
}

// BudgetExceeded 未收敛即停止，结果仍然有效但可能不完整
func (s Status) BudgetExceeded() bool {
	return s != StatusConverged
}

type EngineOptions struct {
	// 乘车轮数上限，即最大换乘次数+1
	MaxRounds int
	// 到达时间不晚于出发时间+MaxDuration，0表示不限制
	MaxDuration int32
	// 下车后再上车的最小间隔
	MinChangeTime int32
	LandUseMode   LandUseMode
	// 每轮之间检查，零值表示不限制
	Deadline time.Time
}

// RunResult 单个出发时刻的运行结果
type RunResult struct {
	Origin    network.StopIdx
	Departure int32
	Rounds    int
	Status    Status
	Labels    *algo.LabelSet
}

func (r *RunResult) Arena() *algo.Arena {
	return r.Labels.Arena()
}

// Leg 行程中的一段，乘车或换乘
type Leg struct {
	Kind   algo.LabelKind
	From   network.StopIdx
	To     network.StopIdx
	Depart int32
	Arrive int32

	// 乘车段
	Route network.RouteIdx
	Trip  int32

	// 换乘段
	Mode      network.TransferMode
	Distance  int32
	StationID string
}
