package network

import "fmt"

// StructuralError 快照数据不一致，构建时即失败，不会在查询时出现
type StructuralError struct {
	Entity string // stop, route, trip, transfer, land_use
	ID     string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("structural error in %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("structural error in %s %q: %s", e.Entity, e.ID, e.Reason)
}

func structural(entity, id, format string, args ...any) *StructuralError {
	return &StructuralError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// UnknownStopError 查询的起点不在网络中
type UnknownStopError struct {
	StopID string
}

func (e *UnknownStopError) Error() string {
	return fmt.Sprintf("unknown stop %q", e.StopID)
}

// VersionMismatchError 快照版本与引擎不兼容
type VersionMismatchError struct {
	Got  int32
	Want int32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("snapshot version %d is not supported (want %d)", e.Got, e.Want)
}
