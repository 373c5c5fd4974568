package core

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// queueEntry is one access record: the counter value observed at the time
// of access, paired with the segment accessed. A later access for the
// same segment makes earlier entries for it stale; staleness is checked
// lazily against lastAccess rather than removing the earlier entry.
type queueEntry struct {
	counter int64
	seg     *Segment
}

// MemoryManager bounds the number of segments resident in memory across
// the whole database, evicting the least-recently-used one with
// lazy stale-entry pruning: a second-chance LRU that amortizes eviction
// cost instead of paying O(n) queue maintenance on every access.
//
// It is owned by exactly one Database and threaded explicitly into every
// Series/Segment it constructs, rather than kept as package-level state.
type MemoryManager struct {
	maxResident int
	reg         *Register

	queue      []queueEntry
	resident   mapset.Set[*Segment]
	dirty      mapset.Set[*Segment]
	lastAccess map[*Segment]int64
	counter    int64
}

func NewMemoryManager(maxResident int, reg *Register) *MemoryManager {
	return &MemoryManager{
		maxResident: maxResident,
		reg:         reg,
		resident:    mapset.NewThreadUnsafeSet[*Segment](),
		dirty:       mapset.NewThreadUnsafeSet[*Segment](),
		lastAccess:  make(map[*Segment]int64),
	}
}

func (m *MemoryManager) recordRead(seg *Segment) {
	m.counter++
	m.queue = append(m.queue, queueEntry{counter: m.counter, seg: seg})
	m.lastAccess[seg] = m.counter
	m.resident.Add(seg)

	if m.resident.Cardinality() > m.maxResident {
		m.evictOne()
	}
}

func (m *MemoryManager) recordWrite(seg *Segment) {
	m.dirty.Add(seg)
	m.recordRead(seg)
}

// forget drops a segment from all manager bookkeeping without writing it
// back; used when a segment is permanently destroyed (split, delete).
func (m *MemoryManager) forget(seg *Segment) {
	m.resident.Remove(seg)
	m.dirty.Remove(seg)
	delete(m.lastAccess, seg)
}

// evictOne pops queue entries until it finds one that is still live
// (segment still resident, and this is its most recent access), then
// evicts exactly that segment. Entries for segments accessed again
// since, or already evicted, are discarded as stale.
func (m *MemoryManager) evictOne() {
	for len(m.queue) > 0 {
		e := m.queue[0]
		m.queue = m.queue[1:]

		if !m.resident.Contains(e.seg) {
			continue
		}
		if m.lastAccess[e.seg] != e.counter {
			continue
		}

		seg := e.seg
		if m.dirty.Contains(seg) {
			if err := seg.writeToDisk(m.reg); err != nil {
				// leave it dirty and resident; re-enqueue so a later
				// eviction trigger retries the write-back.
				m.queue = append(m.queue, queueEntry{counter: m.lastAccess[seg], seg: seg})
				return
			}
			m.dirty.Remove(seg)
		}

		seg.t, seg.x = nil, nil
		seg.memSynced = false
		m.resident.Remove(seg)
		delete(m.lastAccess, seg)
		return
	}
}

// Commit flushes up to n dirty segments, oldest access first, returning
// the count actually flushed.
func (m *MemoryManager) Commit(n int) int {
	dirty := m.dirty.ToSlice()
	sort.Slice(dirty, func(i, j int) bool {
		return m.lastAccess[dirty[i]] < m.lastAccess[dirty[j]]
	})

	flushed := 0
	for _, seg := range dirty {
		if flushed >= n {
			break
		}
		if err := seg.writeToDisk(m.reg); err != nil {
			continue
		}
		m.dirty.Remove(seg)
		flushed++
	}
	return flushed
}

// ForceCommitAll blocks, retrying, until every dirty segment has been
// written back. A persistently failing filesystem hangs this call, which
// matches the documented shutdown behavior under permission denial.
func (m *MemoryManager) ForceCommitAll() {
	for m.dirty.Cardinality() > 0 {
		if m.Commit(1) == 0 {
			continue
		}
	}
}

// Consumption is the total byte footprint of every resident segment's
// buffers.
func (m *MemoryManager) Consumption() int {
	total := 0
	for _, seg := range m.resident.ToSlice() {
		total += seg.memoryConsumption()
	}
	return total
}

func (m *MemoryManager) residentCount() int { return m.resident.Cardinality() }
func (m *MemoryManager) dirtyCount() int    { return m.dirty.Cardinality() }
