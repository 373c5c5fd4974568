package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Segment is a contiguous, time-ordered run of records for one series,
// persisted as one file. id encodes the owning series' serial in its
// high digits (id / segmentIDModulus == serial) so recovery never needs
// a secondary index from segment to series.
type Segment struct {
	id         int64
	numFields  int
	start, end *int64 // nil iff size == 0
	size       int
	t          []int64   // nil when not resident
	x          []float64 // size*numFields, row-major; nil when not resident
	memSynced  bool       // t/x reflect the on-disk file
	diskSynced bool       // on-disk file reflects t/x

	dir string
	mm  *MemoryManager
}

const segmentIDModulus = 100_000_000

func segmentPath(dir string, id int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.tsg", id))
}

// newSegmentFromData builds a segment already resident in memory, as when
// a Series creates its first segment or a split produces new pieces.
func newSegmentFromData(dir string, id int64, numFields int, t []int64, x []float64, mm *MemoryManager) *Segment {
	s := &Segment{
		id:         id,
		numFields:  numFields,
		t:          t,
		x:          x,
		size:       len(t),
		memSynced:  true,
		diskSynced: false,
		dir:        dir,
		mm:         mm,
	}
	s.refreshBounds()
	return s
}

// newSegmentFromMeta builds a segment in metadata-only mode, as produced
// by replaying the register at startup: buffers are absent until the
// first access loads them from disk.
func newSegmentFromMeta(dir string, id int64, numFields int, start, end *int64, size int, mm *MemoryManager) *Segment {
	return &Segment{
		id:         id,
		numFields:  numFields,
		start:      start,
		end:        end,
		size:       size,
		memSynced:  false,
		diskSynced: true,
		dir:        dir,
		mm:         mm,
	}
}

func (s *Segment) refreshBounds() {
	if s.size == 0 {
		s.start, s.end = nil, nil
		return
	}
	start, end := s.t[0], s.t[s.size-1]
	s.start, s.end = &start, &end
}

func (s *Segment) serial() int64 { return s.id / segmentIDModulus }

// Less orders segments by time: a precedes b iff a's data entirely
// precedes b's. Empty segments (both bounds nil) compare as adjacent.
func (s *Segment) Less(o *Segment) bool {
	if s.end == nil || o.start == nil {
		return true
	}
	return *s.end <= *o.start
}

func (s *Segment) path() string {
	return segmentPath(s.dir, s.id)
}

// memoryConsumption is the byte footprint of resident buffers: 8 bytes
// per timestamp plus 8 bytes per value cell.
func (s *Segment) memoryConsumption() int {
	if s.t == nil {
		return 0
	}
	return len(s.t)*8 + len(s.x)*8
}

// loadFromDisk ensures t/x are resident, reading the backing file if
// necessary, and records a memory-manager access either way.
func (s *Segment) loadFromDisk() error {
	if !s.memSynced {
		t, x, numFields, err := readSegmentFile(s.path())
		if err != nil {
			return err
		}
		s.t, s.x, s.numFields = t, x, numFields
		s.size = len(t)
		s.refreshBounds()
		s.memSynced = true
		s.diskSynced = true
	}
	s.mm.recordRead(s)
	return nil
}

// writeToDisk flushes resident buffers to the backing file, or removes
// the file if the segment is now empty. A no-op if already disk-synced.
func (s *Segment) writeToDisk(reg *Register) error {
	if s.diskSynced {
		return nil
	}
	if s.size > 0 {
		if err := writeSegmentFile(s.path(), s.t, s.x, s.numFields); err != nil {
			return err
		}
	} else {
		if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
			return newErr(IOFailure, "remove empty segment file %q: %v", s.path(), err)
		}
	}
	s.diskSynced = true
	return reg.RecordSegment(s)
}

func (s *Segment) markDirty() {
	s.diskSynced = false
	s.mm.recordWrite(s)
}

// lowerBound returns the index of the first element >= t.
func (s *Segment) lowerBound(t int64) int {
	return sort.Search(s.size, func(i int) bool { return s.t[i] >= t })
}

// upperBound returns the index of the first element > t.
func (s *Segment) upperBound(t int64) int {
	return sort.Search(s.size, func(i int) bool { return s.t[i] > t })
}

func (s *Segment) row(i int) []float64 {
	return s.x[i*s.numFields : (i+1)*s.numFields]
}

func (s *Segment) project(row []float64, cols []int) []float64 {
	if cols == nil {
		out := make([]float64, len(row))
		copy(out, row)
		return out
	}
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = row[c]
	}
	return out
}

// Get resolves t against when and returns the matching (timestamp, row).
func (s *Segment) Get(t int64, cols []int, when WhenMode) (int64, []float64, error) {
	if err := s.loadFromDisk(); err != nil {
		return 0, nil, err
	}

	idx := s.lowerBound(t)
	switch when {
	case After:
		if idx == s.size {
			return 0, nil, newErr(NotFound, "no record at or after %d", t)
		}
	case Before:
		if idx == s.size || s.t[idx] != t {
			idx--
		}
		if idx < 0 {
			return 0, nil, newErr(NotFound, "no record at or before %d", t)
		}
	case Exact:
		if idx == s.size || s.t[idx] != t {
			return 0, nil, newErr(NotFound, "no record exactly at %d", t)
		}
	}

	return s.t[idx], s.project(s.row(idx), cols), nil
}

// GetRange returns every record with start <= t <= end.
func (s *Segment) GetRange(start, end int64, cols []int) ([]int64, [][]float64, error) {
	if err := s.loadFromDisk(); err != nil {
		return nil, nil, err
	}

	lo := s.lowerBound(start)
	hi := s.upperBound(end)

	times := make([]int64, 0, hi-lo)
	rows := make([][]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		times = append(times, s.t[i])
		rows = append(rows, s.project(s.row(i), cols))
	}
	return times, rows, nil
}

// Insert adds (t, x) according to conflict, returning whether start or
// end changed (the caller uses this to know whether the series' own
// segment-ordering bookkeeping needs a refresh).
func (s *Segment) Insert(t int64, x []float64, conflict ConflictMode) (boundsChanged bool, err error) {
	if err := s.loadFromDisk(); err != nil {
		return false, err
	}

	if s.size == 0 {
		s.t = append(s.t, t)
		s.x = append(s.x, x...)
		s.size = 1
		s.refreshBounds()
		s.markDirty()
		return true, nil
	}

	switch {
	case t < *s.start:
		s.insertAt(0, t, x)
		s.refreshBounds()
		s.markDirty()
		return true, nil
	case t > *s.end:
		s.insertAt(s.size, t, x)
		s.refreshBounds()
		s.markDirty()
		return true, nil
	}

	idx := s.lowerBound(t)
	if idx < s.size && s.t[idx] == t {
		switch conflict {
		case KeepBoth:
			s.insertAt(idx, t, x)
		case Replace:
			copy(s.row(idx), x)
		case Skip:
			// no-op
		}
		s.markDirty()
		return false, nil
	}

	s.insertAt(idx, t, x)
	s.markDirty()
	return false, nil
}

func (s *Segment) insertAt(idx int, t int64, x []float64) {
	s.t = append(s.t, 0)
	copy(s.t[idx+1:], s.t[idx:])
	s.t[idx] = t

	s.x = append(s.x, make([]float64, s.numFields)...)
	copy(s.x[(idx+1)*s.numFields:], s.x[idx*s.numFields:s.size*s.numFields])
	copy(s.x[idx*s.numFields:(idx+1)*s.numFields], x)

	s.size++
}

// Split partitions the segment into len(newIDs) contiguous, as-equal-as
// possible pieces using integer-rounded linspace cut points, producing
// fresh resident (not disk-synced) segments. The receiver is left
// unchanged: callers must drop it from the series and call Delete to
// emit the tombstone.
func (s *Segment) Split(newIDs []int64) ([]*Segment, error) {
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}

	n := len(newIDs)
	cuts := linspaceInts(0, s.size, n)

	out := make([]*Segment, n)
	for i := 0; i < n; i++ {
		lo, hi := cuts[i], cuts[i+1]
		t := append([]int64(nil), s.t[lo:hi]...)
		x := append([]float64(nil), s.x[lo*s.numFields:hi*s.numFields]...)
		out[i] = newSegmentFromData(s.dir, newIDs[i], s.numFields, t, x, s.mm)
		s.mm.recordWrite(out[i])
	}
	return out, nil
}

// linspaceInts returns n+1 cut points partitioning [lo, hi) into n
// contiguous runs whose sizes differ by at most one: the points of
// numpy.linspace(lo, hi, n+1) rounded to integers, with exact halves
// rounded up.
func linspaceInts(lo, hi, n int) []int {
	cuts := make([]int, n+1)
	total := hi - lo
	for i := 0; i <= n; i++ {
		cuts[i] = lo + (total*i+n/2)/n
	}
	return cuts
}

// Delete empties the segment; the resulting zero-size write is the
// deletion tombstone the register observes on the next write-back.
func (s *Segment) Delete() {
	s.t, s.x = nil, nil
	s.size = 0
	s.start, s.end = nil, nil
	s.memSynced = true
	s.markDirty()
}
