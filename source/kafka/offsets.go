package kafka

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type TopicPartition struct {
	Topic     string
	Partition int32
}

// Offsets maps a partition to the next offset to consume, which is the
// value a group commit stores.
type Offsets map[TopicPartition]int64

// Advance records next for tp unless a higher value is already present.
func (o Offsets) Advance(tp TopicPartition, next int64) {
	if cur, ok := o[tp]; !ok || next > cur {
		o[tp] = next
	}
}

func (o Offsets) Clone() Offsets {
	out := make(Offsets, len(o))
	for tp, off := range o {
		out[tp] = off
	}
	return out
}

func (o Offsets) String() string {
	parts := make([]string, 0, len(o))
	for tp, off := range o {
		parts = append(parts, fmt.Sprintf("%s[%d]@%d", tp.Topic, tp.Partition, off))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// watermark remembers the highest offset committed per partition so a late
// or repeated commit never moves a partition backwards.
type watermark struct {
	mu        sync.Mutex
	committed Offsets
}

func newWatermark() *watermark { return &watermark{committed: Offsets{}} }

// pending returns the entries of offs that are ahead of the watermark.
func (w *watermark) pending(offs Offsets) Offsets {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := Offsets{}
	for tp, off := range offs {
		if cur, ok := w.committed[tp]; ok && cur >= off {
			continue
		}
		out[tp] = off
	}
	return out
}

func (w *watermark) advance(offs Offsets) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for tp, off := range offs {
		w.committed.Advance(tp, off)
	}
}

func (w *watermark) snapshot() Offsets {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.committed.Clone()
}
