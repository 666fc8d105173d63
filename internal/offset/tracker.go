package offset

import "sort"

// partitionState 单个分区的已处理未提交offset及最后提交的offset
type partitionState struct {
	processed     map[int64]struct{}
	lastCommitted int64
}

// Tracker 按分区跟踪处理进度，只能由commit loop使用
type Tracker struct {
	partitions map[int32]*partitionState
}

// NewTracker 创建Tracker
func NewTracker() *Tracker {
	return &Tracker{partitions: make(map[int32]*partitionState)}
}

func (t *Tracker) partition(p int32) *partitionState {
	ps, ok := t.partitions[p]
	if !ok {
		// -1表示下一次从offset 0开始提交
		ps = &partitionState{processed: make(map[int64]struct{}), lastCommitted: -1}
		t.partitions[p] = ps
	}
	return ps
}

// Mark 记录一个已处理（成功或失败）的offset
func (t *Tracker) Mark(partition int32, offset int64) {
	ps := t.partition(partition)
	if offset <= ps.lastCommitted {
		return
	}
	ps.processed[offset] = struct{}{}
}

// MaxContiguous 从lastCommitted+1开始的最长连续已处理offset，没有进展时返回lastCommitted
func MaxContiguous(processed map[int64]struct{}, lastCommitted int64) int64 {
	max := lastCommitted
	for {
		if _, ok := processed[max+1]; !ok {
			return max
		}
		max++
	}
}

// Stage 计算每个有进展的分区应提交的值（下一个待读取offset）
func (t *Tracker) Stage() map[int32]int64 {
	staged := make(map[int32]int64)
	for p, ps := range t.partitions {
		if len(ps.processed) == 0 {
			continue
		}
		max := MaxContiguous(ps.processed, ps.lastCommitted)
		if max > ps.lastCommitted {
			staged[p] = max + 1
		}
	}
	return staged
}

// Apply 提交成功后更新lastCommitted，并只保留 >= 新提交值 的offset
func (t *Tracker) Apply(committed map[int32]int64) {
	for p, next := range committed {
		ps := t.partition(p)
		ps.lastCommitted = next - 1
		for o := range ps.processed {
			if o < next {
				delete(ps.processed, o)
			}
		}
	}
}

// LastCommitted 返回分区最后提交的offset，未知分区为-1
func (t *Tracker) LastCommitted(partition int32) int64 {
	if ps, ok := t.partitions[partition]; ok {
		return ps.lastCommitted
	}
	return -1
}

// Pending 已处理未提交的offset总数
func (t *Tracker) Pending() int {
	n := 0
	for _, ps := range t.partitions {
		n += len(ps.processed)
	}
	return n
}

// Empty 是否没有待提交数据
func (t *Tracker) Empty() bool {
	return t.Pending() == 0
}

// MaxSeen 每个分区已处理的最大offset
func (t *Tracker) MaxSeen() map[int32]int64 {
	out := make(map[int32]int64)
	for p, ps := range t.partitions {
		for o := range ps.processed {
			if cur, ok := out[p]; !ok || o > cur {
				out[p] = o
			}
		}
	}
	return out
}

// Partitions 返回有状态的分区，按编号排序
func (t *Tracker) Partitions() []int32 {
	ps := make([]int32, 0, len(t.partitions))
	for p := range t.partitions {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

// Reset 清空所有跟踪状态
func (t *Tracker) Reset() {
	t.partitions = make(map[int32]*partitionState)
}
