package scheduler

import "sync"

// slotTable records which account holds each of the N slots.
type slotTable struct {
	mu    sync.Mutex
	slots []string
	used  int
	peak  int
}

func newSlotTable(n int) *slotTable {
	return &slotTable{slots: make([]string, n)}
}

// claim takes the lowest free slot for holder. The admission gate guarantees
// a free slot exists; claim returns -1 otherwise.
func (t *slotTable) claim(holder string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.slots {
		if h == "" {
			t.slots[i] = holder
			t.used++
			if t.used > t.peak {
				t.peak = t.used
			}
			return i
		}
	}
	return -1
}

// release frees slot i. Releasing a free slot is a no-op.
func (t *slotTable) release(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.slots) || t.slots[i] == "" {
		return
	}
	t.slots[i] = ""
	t.used--
}

func (t *slotTable) occupied() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

func (t *slotTable) maxOccupied() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}
