package algo

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock 解析HH:MM或HH:MM:SS为距服务日开始的秒数，小时可以超过24
func ParseClock(s string) (int32, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
		}
		v[i] = n
	}
	total := int64(v[0])*3600 + int64(v[1])*60 + int64(v[2])
	if total >= int64(Infinity) {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return int32(total), nil
}

// FormatClock 输出HH:MM:SS，Infinity输出--:--:--
func FormatClock(t int32) string {
	if t == Infinity {
		return "--:--:--"
	}
	sign := ""
	if t < 0 {
		sign = "-"
		t = -t
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, t/3600, t/60%60, t%60)
}
