package scheduler

import "sync"

// budget enforces the per-keyword job limit. A slot is reserved before a
// listing is resolved, committed when its record is saved and released otherwise.
type budget struct {
	limit    int
	mu       sync.Mutex
	reserved map[string]int
	saved    map[string]int
}

func newBudget(limit int) *budget {
	return &budget{limit: limit, reserved: map[string]int{}, saved: map[string]int{}}
}

func (b *budget) unlimited() bool { return b.limit <= 0 }

// exhausted reports whether keyword already has limit saved records.
func (b *budget) exhausted(keyword string) bool {
	if b.unlimited() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saved[keyword] >= b.limit
}

func (b *budget) reserve(keyword string) bool {
	if b.unlimited() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved[keyword] >= b.limit {
		return false
	}
	b.reserved[keyword]++
	return true
}

func (b *budget) commit(keyword string) {
	if b.unlimited() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved[keyword]++
}

func (b *budget) release(keyword string) {
	if b.unlimited() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved[keyword] > 0 {
		b.reserved[keyword]--
	}
}
