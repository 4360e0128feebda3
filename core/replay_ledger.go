package core

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultReplayWindow = 5 * time.Minute
const defaultReplayCapacity = 8192

type replayEntry struct {
	key       string
	expiresAt time.Time
	index     int
}

// replayExpiryHeap orders live claims by expiry so eviction and purge
// touch only the entries that are actually due.
type replayExpiryHeap []*replayEntry

func (h replayExpiryHeap) Len() int { return len(h) }

func (h replayExpiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h replayExpiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *replayExpiryHeap) Push(x any) {
	entry := x.(*replayEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *replayExpiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// MemoryReplayLedger records signature claims for the verification window.
// A claim wins exactly once per window; at capacity the entry closest to
// expiry is evicted to make room.
type MemoryReplayLedger struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	byKey    map[string]*replayEntry
	byExpiry replayExpiryHeap
	Now      func() time.Time
}

func NewMemoryReplayLedger(window time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(window, defaultReplayCapacity)
}

func NewMemoryReplayLedgerWithLimits(window time.Duration, capacity int) *MemoryReplayLedger {
	if window <= 0 {
		window = defaultReplayWindow
	}
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	return &MemoryReplayLedger{
		window:   window,
		capacity: capacity,
		byKey:    map[string]*replayEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: replay ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.window
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropDueLocked(now)
	if _, live := l.byKey[key]; live {
		return false, nil
	}
	for len(l.byKey) >= l.capacity && l.byExpiry.Len() > 0 {
		l.removeLocked(heap.Pop(&l.byExpiry).(*replayEntry))
	}
	entry := &replayEntry{key: key, expiresAt: now.Add(ttl)}
	l.byKey[key] = entry
	heap.Push(&l.byExpiry, entry)
	return true, nil
}

func (l *MemoryReplayLedger) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: replay ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropDueLocked(now), nil
}

func (l *MemoryReplayLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) dropDueLocked(now time.Time) int {
	dropped := 0
	for l.byExpiry.Len() > 0 && !now.Before(l.byExpiry[0].expiresAt) {
		l.removeLocked(heap.Pop(&l.byExpiry).(*replayEntry))
		dropped++
	}
	return dropped
}

func (l *MemoryReplayLedger) removeLocked(entry *replayEntry) {
	if entry == nil {
		return
	}
	delete(l.byKey, entry.key)
}

var _ ReplayLedger = (*MemoryReplayLedger)(nil)
