// Package lockmgr implements the striped, in-process, blocking mutex
// manager spec.md §5 describes: "A striped per-engine lock manager keys
// locks by user-key bytes; multi-key acquisitions ... acquire locks in
// lexicographic order of key bytes to preclude deadlock."
//
// It keeps the teacher's lib/lockmgr.ILockManager naming (AcquireLock/
// ReleaseLock) in spirit but drops its store-backed lease design (owner
// IDs, SetEIfUnset-based CAS, timeouts): this manager owns real
// sync.Mutex stripes in-process rather than leasing keys in a shared
// store, since blackwidow's lock manager only has to serialize goroutines
// within one process (spec.md's Non-goals rule out replication).
package lockmgr

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/justforfun1323/blackwidow/internal/util"
)

// defaultStripes is the number of independent mutexes a Manager stripes
// its key space across.
const defaultStripes = 1024

// Hold records one in-flight multi-key lock, for lock-manager
// introspection.
type Hold struct {
	Keys    []string
	Stripes []int
}

// Manager is a striped mutex keyed by user-key bytes. One Manager is
// constructed per engine (strings, hashes, sets, zsets, lists); SMOVE and
// similar cross-engine operations call LockMulti on the engines involved,
// always in lexicographic key order, to avoid circular waits.
type Manager struct {
	stripes []sync.Mutex
	seed    uint64
	nextTok atomic.Uint64

	// inFlight records every currently-held LockMulti call, keyed by a
	// monotonic token, so an operator can inspect what the lock manager
	// is holding without stopping the world (plain map+mutex would itself
	// need its own lock on this hot path; xsync's lock-free map avoids
	// that, the same tradeoff the teacher's maple engine made for its
	// shard map).
	inFlight *xsync.MapOf[uint64, Hold]
}

// NewManager creates a lock manager with the given number of stripes (use
// 0 for the default of 1024).
func NewManager(stripeCount int) *Manager {
	if stripeCount <= 0 {
		stripeCount = defaultStripes
	}
	return &Manager{
		stripes:  make([]sync.Mutex, stripeCount),
		seed:     util.GenerateSeed(),
		inFlight: xsync.NewMapOf[uint64, Hold](),
	}
}

func (m *Manager) stripeFor(key string) int {
	return int(util.HashString(key, m.seed) % uint64(len(m.stripes)))
}

// Lock blocks until the stripe for key is acquired.
func (m *Manager) Lock(key string) {
	m.stripes[m.stripeFor(key)].Lock()
}

// Unlock releases the stripe for key. Must be called exactly once per
// successful Lock.
func (m *Manager) Unlock(key string) {
	m.stripes[m.stripeFor(key)].Unlock()
}

// LockMulti acquires the stripes for every key, deduplicated and sorted
// into lexicographic order first (spec.md §3.2 invariant 7, §5
// "Locking"), so two goroutines locking the same key set in any order
// never deadlock. It returns a token identifying this hold, which is all
// UnlockMulti needs, and the deduplicated, sorted key list.
func (m *Manager) LockMulti(keys ...string) (token uint64, ordered []string) {
	ordered = dedupeSorted(keys)
	stripes := make([]int, 0, len(ordered))
	locked := map[int]bool{}
	for _, k := range ordered {
		idx := m.stripeFor(k)
		if locked[idx] {
			// Two distinct keys hashed to the same stripe: already held
			// by this same call, skip re-locking to avoid self-deadlock.
			continue
		}
		m.stripes[idx].Lock()
		locked[idx] = true
		stripes = append(stripes, idx)
	}

	token = m.nextTok.Add(1)
	m.inFlight.Store(token, Hold{Keys: ordered, Stripes: stripes})
	return token, ordered
}

// UnlockMulti releases the stripes acquired by the LockMulti call that
// returned token.
func (m *Manager) UnlockMulti(token uint64) {
	hold, ok := m.inFlight.LoadAndDelete(token)
	if !ok {
		return
	}
	for _, idx := range hold.Stripes {
		m.stripes[idx].Unlock()
	}
}

// Holds returns a snapshot of every currently in-flight multi-key lock.
func (m *Manager) Holds() []Hold {
	out := make([]Hold, 0, m.inFlight.Size())
	m.inFlight.Range(func(_ uint64, h Hold) bool {
		out = append(out, h)
		return true
	})
	return out
}

func dedupeSorted(keys []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
