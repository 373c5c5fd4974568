package core

import "math"

// segFindMode selects how bisectSegmentIndex resolves a timestamp that
// falls outside every segment's range or into a gap between segments.
// Exact reuses the After selection: letting Segment.Get's own exact
// check fail is sufficient, since no segment can ever contain an exact
// match for a timestamp that bisection places outside its range.
type segFindMode int

const (
	segFindAfter segFindMode = iota
	segFindBefore
	segFindDefault
)

func segFindModeFor(when WhenMode) segFindMode {
	switch when {
	case Before:
		return segFindBefore
	default:
		return segFindAfter
	}
}

// bisectSegmentIndex locates the segment that should handle timestamp t,
// given a non-empty, sorted, non-overlapping slice of segments. Ported
// from the bisection routine that selects among segments by start/end
// range, including its three-way resolution of before-first, after-last,
// and in-a-gap timestamps.
func bisectSegmentIndex(segments []*Segment, t int64, mode segFindMode) (int, error) {
	n := len(segments)
	first, last := segments[0], segments[n-1]

	if first.start != nil && t < *first.start {
		if mode == segFindBefore {
			return 0, newErr(NotFound, "timestamp %d precedes all data", t)
		}
		return 0, nil
	}
	if last.end != nil && t > *last.end {
		if mode == segFindAfter {
			return 0, newErr(NotFound, "timestamp %d follows all data", t)
		}
		return n - 1, nil
	}

	low, high := 0, n-1
	for low < high {
		mid := (low + high) / 2
		seg := segments[mid]
		switch {
		case seg.start != nil && *seg.start <= t && t <= *seg.end:
			return mid, nil
		case seg.start != nil && t < *seg.start:
			high = mid
		default:
			low = mid + 1
		}
	}

	seg := segments[low]
	if seg.start != nil && *seg.start <= t && t <= *seg.end {
		return low, nil
	}

	// t sits in the gap between segments[low-1] and segments[low].
	if mode == segFindBefore {
		if low-1 < 0 {
			return 0, newErr(NotFound, "timestamp %d precedes all data", t)
		}
		return low - 1, nil
	}
	return low, nil
}

// Series is an ordered collection of non-overlapping segments for one
// path, identified database-wide by serial.
type Series struct {
	serial    int64
	fields    []string
	segments  []*Segment
	nextLocal int64

	dir            string
	mm             *MemoryManager
	reg            *Register
	maxSegmentSize int
}

func newSeries(serial int64, fields []string, dir string, mm *MemoryManager, reg *Register, maxSegmentSize int) *Series {
	return &Series{
		serial:         serial,
		fields:         append([]string(nil), fields...),
		dir:            dir,
		mm:             mm,
		reg:            reg,
		maxSegmentSize: maxSegmentSize,
	}
}

func (sr *Series) Len() int {
	total := 0
	for _, seg := range sr.segments {
		total += seg.size
	}
	return total
}

func (sr *Series) Bounds() (start, end *int64) {
	if len(sr.segments) == 0 {
		return nil, nil
	}
	return sr.segments[0].start, sr.segments[len(sr.segments)-1].end
}

func (sr *Series) fieldCols(names []string) ([]int, error) {
	if names == nil {
		return nil, nil
	}
	cols := make([]int, len(names))
	for i, name := range names {
		idx := -1
		for j, f := range sr.fields {
			if f == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, newErr(InvalidArgument, "unknown field %q", name)
		}
		cols[i] = idx
	}
	return cols, nil
}

func (sr *Series) nextSegmentID() (int64, error) {
	if sr.nextLocal >= segmentIDModulus {
		return 0, newErr(InvariantViolation, "series %d exhausted its segment id space", sr.serial)
	}
	id := sr.serial*segmentIDModulus + sr.nextLocal
	sr.nextLocal++
	return id, nil
}

// Insert validates x against the field count, then routes to the target
// segment by bisection and triggers a split if the target grows past
// maxSegmentSize.
func (sr *Series) Insert(t int64, x []float64, conflict ConflictMode) error {
	if len(x) != len(sr.fields) {
		return newErr(InvalidArgument, "insert: expected %d fields, got %d", len(sr.fields), len(x))
	}

	if len(sr.segments) == 0 {
		id, err := sr.nextSegmentID()
		if err != nil {
			return err
		}
		row := append([]float64(nil), x...)
		seg := newSegmentFromData(sr.dir, id, len(sr.fields), []int64{t}, row, sr.mm)
		sr.mm.recordWrite(seg)
		sr.segments = append(sr.segments, seg)
		return nil
	}

	idx, err := bisectSegmentIndex(sr.segments, t, segFindDefault)
	if err != nil {
		return err
	}

	if _, err := sr.segments[idx].Insert(t, x, conflict); err != nil {
		return err
	}

	if sr.segments[idx].memoryConsumption() > sr.maxSegmentSize {
		return sr.splitAt(idx, 2)
	}
	return nil
}

// splitAt replaces segments[idx] with nSplits freshly allocated pieces.
func (sr *Series) splitAt(idx, nSplits int) error {
	seg := sr.segments[idx]

	ids := make([]int64, nSplits)
	for i := range ids {
		id, err := sr.nextSegmentID()
		if err != nil {
			return err
		}
		ids[i] = id
	}

	newSegs, err := seg.Split(ids)
	if err != nil {
		return err
	}
	seg.Delete()

	rest := append([]*Segment(nil), sr.segments[idx+1:]...)
	sr.segments = append(sr.segments[:idx], append(newSegs, rest...)...)
	return nil
}

func (sr *Series) Get(t int64, fieldNames []string, when WhenMode) (int64, []float64, error) {
	if len(sr.segments) == 0 {
		return 0, nil, newErr(NotFound, "series has no data")
	}
	cols, err := sr.fieldCols(fieldNames)
	if err != nil {
		return 0, nil, err
	}
	idx, err := bisectSegmentIndex(sr.segments, t, segFindModeFor(when))
	if err != nil {
		return 0, nil, err
	}
	return sr.segments[idx].Get(t, cols, when)
}

func (sr *Series) GetRange(start, end int64, fieldNames []string) ([]int64, [][]float64, error) {
	cols, err := sr.fieldCols(fieldNames)
	if err != nil {
		return nil, nil, err
	}
	times := []int64{}
	rows := [][]float64{}
	for _, seg := range sr.segments {
		if seg.start == nil {
			continue
		}
		if *seg.end < start || *seg.start > end {
			continue
		}
		t, x, err := seg.GetRange(start, end, cols)
		if err != nil {
			return nil, nil, err
		}
		times = append(times, t...)
		rows = append(rows, x...)
	}
	return times, rows, nil
}

func (sr *Series) GetAll(fieldNames []string) ([]int64, [][]float64, error) {
	return sr.GetRange(math.MinInt64, math.MaxInt64, fieldNames)
}

func (sr *Series) RenameFields(newFields []string) error {
	if len(newFields) != len(sr.fields) {
		return newErr(InvalidArgument, "rename_fields: expected %d names, got %d", len(sr.fields), len(newFields))
	}
	sr.fields = append([]string(nil), newFields...)
	return nil
}

// Delete empties every segment and forces their tombstones to disk
// immediately, rather than waiting on the memory manager's eviction or
// idle-tick commit.
func (sr *Series) Delete() error {
	for _, seg := range sr.segments {
		seg.Delete()
		if err := seg.writeToDisk(sr.reg); err != nil {
			return err
		}
		sr.mm.forget(seg)
	}
	sr.segments = nil
	sr.fields = nil
	return nil
}
