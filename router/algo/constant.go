package algo

import (
	"errors"
	"math"
)

const (
	// 不可达状态下到达时间、换乘次数、距离的取值
	Infinity int32 = math.MaxInt32

	// 一天的秒数，跨午夜的班次时刻可以超过该值
	DAY = 86400
)

var (
	// 错误：时刻格式不是HH:MM或HH:MM:SS
	ErrBadClock = errors.New("bad clock value, want HH:MM or HH:MM:SS")
)
