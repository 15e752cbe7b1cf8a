package syncer

import (
	"sort"
	"sync"

	"github.com/MrEthical07/credsync/record"
)

// keyedMutex hands out one mutex per principal and forgets it once no
// goroutine holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[record.Principal]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[record.Principal]*refMutex)}
}

// Lock blocks until p's lock is held and returns the function that releases it.
func (k *keyedMutex) Lock(p record.Principal) func() {
	k.mu.Lock()
	m, ok := k.locks[p]
	if !ok {
		m = &refMutex{}
		k.locks[p] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, p)
		}
		k.mu.Unlock()
	}
}

// LockAll locks every distinct principal in ps in a fixed order so
// concurrent callers locking overlapping sets cannot deadlock.
func (k *keyedMutex) LockAll(ps ...record.Principal) func() {
	set := make([]record.Principal, 0, len(ps))
	seen := make(map[record.Principal]bool, len(ps))
	for _, p := range ps {
		if !seen[p] {
			seen[p] = true
			set = append(set, p)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].String() < set[j].String() })

	unlocks := make([]func(), 0, len(set))
	for _, p := range set {
		unlocks = append(unlocks, k.Lock(p))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
