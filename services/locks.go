package services

import (
	"hash/fnv"
	"sort"
	"sync"
)

const lockStripes = 64

// taskLocker serializes operations per task id via striped mutexes, so
// check-then-mutate sequences on one task's edge and grant sets cannot
// interleave, while unrelated tasks stay non-blocking.
type taskLocker struct {
	stripes [lockStripes]sync.Mutex
}

// lock acquires the stripes covering the given ids in ascending order, which
// keeps two-task operations deadlock-free, and returns the release func.
func (l *taskLocker) lock(taskIDs ...string) func() {
	seen := make(map[uint32]struct{}, len(taskIDs))
	var indexes []uint32
	for _, id := range taskIDs {
		if id == "" {
			continue
		}
		idx := stripeFor(id)
		if _, ok := seen[idx]; !ok {
			seen[idx] = struct{}{}
			indexes = append(indexes, idx)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, idx := range indexes {
		l.stripes[idx].Lock()
	}
	return func() {
		for i := len(indexes) - 1; i >= 0; i-- {
			l.stripes[indexes[i]].Unlock()
		}
	}
}

func stripeFor(taskID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return h.Sum32() % lockStripes
}

// stripesCovered reports whether every id in ids hashes to a stripe already
// covered by heldIDs.
func stripesCovered(heldIDs, ids []string) bool {
	held := make(map[uint32]struct{}, len(heldIDs))
	for _, id := range heldIDs {
		if id != "" {
			held[stripeFor(id)] = struct{}{}
		}
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := held[stripeFor(id)]; !ok {
			return false
		}
	}
	return true
}

func appendMissingIDs(ids, more []string) []string {
	for _, id := range more {
		if id != "" && !containsID(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
