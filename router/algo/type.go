package algo

import (
	"git.fiblab.net/sim/accessibility/network"
)

// 标签在Arena中的下标
type LabelID int32

const NoLabel LabelID = -1

// 标签由哪种边产生
type LabelKind int8

const (
	KindOrigin LabelKind = iota
	KindTrip
	KindTransfer
)

func (k LabelKind) String() string {
	switch k {
	case KindOrigin:
		return "origin"
	case KindTrip:
		return "trip"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Label 某站点上的一个部分行程
// 写入Arena后不再修改，改进只会产生新标签
type Label struct {
	Vec   Vector
	Round int32
	Kind  LabelKind
	// 是否已经乘坐过公共交通，首次上车不计换乘
	Boarded bool
	Parent  LabelID
	Stop    network.StopIdx

	// KindTrip
	Route     network.RouteIdx
	Trip      int32
	BoardPos  int32
	AlightPos int32

	// KindTransfer，指向Store中的只读边
	Edge *network.TransferEdge
}

// Arena 一次路由运行中所有标签的存储，标签通过Parent共享前缀
type Arena struct {
	labels []Label
}

func NewArena(capHint int) *Arena {
	return &Arena{labels: make([]Label, 0, capHint)}
}

func (a *Arena) Add(l Label) LabelID {
	a.labels = append(a.labels, l)
	return LabelID(len(a.labels) - 1)
}

func (a *Arena) Get(id LabelID) *Label {
	return &a.labels[id]
}

func (a *Arena) Len() int {
	return len(a.labels)
}

// Chain 从起点标签到id的回溯链
func (a *Arena) Chain(id LabelID) []LabelID {
	var chain []LabelID
	for cur := id; cur != NoLabel; cur = a.labels[cur].Parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
