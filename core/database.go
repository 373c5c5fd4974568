package core

import "sort"

// Database is the top-level map from path to series: the single owner of
// every Series, the Register and the MemoryManager. A process holds
// exactly one Database instance; it is not a package-level global, and
// every operation takes it as an explicit receiver so tests can run
// several independent instances concurrently.
type Database struct {
	dir string
	reg *Register
	mm  *MemoryManager

	series       map[string]*Series
	pathBySerial map[int64]Path
	nextSerial   int64

	maxSegmentSize int
}

// Open replays the register (if any) and reconstitutes every series in
// metadata-only mode: segment buffers are loaded lazily on first access.
func Open(dir string, maxSegmentSize, maxSegmentsInMemory int) (*Database, error) {
	reg, err := OpenRegister(dir)
	if err != nil {
		return nil, err
	}
	mm := NewMemoryManager(maxSegmentsInMemory, reg)

	result, err := Replay(dir)
	if err != nil {
		return nil, err
	}

	db := &Database{
		dir:            dir,
		reg:            reg,
		mm:             mm,
		series:         map[string]*Series{},
		pathBySerial:   map[int64]Path{},
		nextSerial:     1,
		maxSegmentSize: maxSegmentSize,
	}

	for serial, st := range result.Series {
		if st.deleted || st.fields == nil {
			continue
		}
		sr := newSeries(serial, st.fields, dir, mm, reg, maxSegmentSize)

		ids := make([]int64, 0, len(st.segments))
		for id := range st.segments {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			a, b := st.segments[ids[i]], st.segments[ids[j]]
			if *a.start != *b.start {
				return *a.start < *b.start
			}
			if *a.end != *b.end {
				return *a.end < *b.end
			}
			return ids[i] < ids[j]
		})

		for _, id := range ids {
			meta := st.segments[id]
			sr.segments = append(sr.segments, newSegmentFromMeta(dir, id, meta.numFields, meta.start, meta.end, meta.size, mm))
			if local := id % segmentIDModulus; local >= sr.nextLocal {
				sr.nextLocal = local + 1
			}
		}

		db.series[Path(st.path).key()] = sr
		db.pathBySerial[serial] = st.path
		if serial >= db.nextSerial {
			db.nextSerial = serial + 1
		}
	}

	return db, nil
}

func (db *Database) lookup(path Path) (*Series, error) {
	sr, ok := db.series[path.key()]
	if !ok {
		return nil, newErr(NotFound, "no series at %s", path)
	}
	return sr, nil
}

func (db *Database) NewSeries(path Path, fields []string) error {
	key := path.key()
	if _, exists := db.series[key]; exists {
		return newErr(AlreadyExists, "series already exists at %s", path)
	}

	serial := db.nextSerial
	db.nextSerial++

	if err := db.reg.RecordSeries(path, serial, fields); err != nil {
		return err
	}

	db.series[key] = newSeries(serial, fields, db.dir, db.mm, db.reg, db.maxSegmentSize)
	db.pathBySerial[serial] = path
	return nil
}

func (db *Database) DeleteSeries(path Path) error {
	sr, err := db.lookup(path)
	if err != nil {
		return err
	}
	if err := sr.Delete(); err != nil {
		return err
	}
	if err := db.reg.RecordSeriesDeletion(path, sr.serial); err != nil {
		return err
	}
	delete(db.series, path.key())
	delete(db.pathBySerial, sr.serial)
	return nil
}

// DefragmentSeries rebuilds a fragmented series as a single sorted
// sequence of freshly allocated segments. A no-op for series already at
// one segment or fewer.
func (db *Database) DefragmentSeries(path Path) error {
	sr, err := db.lookup(path)
	if err != nil {
		return err
	}
	if len(sr.segments) <= 1 {
		return nil
	}

	times, rows, err := sr.GetAll(nil)
	if err != nil {
		return err
	}
	fields := append([]string(nil), sr.fields...)

	order := make([]int, len(times))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return times[order[i]] < times[order[j]] })

	if err := sr.Delete(); err != nil {
		return err
	}
	sr.fields = fields
	sr.nextLocal = 0

	for _, i := range order {
		if err := sr.Insert(times[i], rows[i], KeepBoth); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) MoveSeries(oldPath, newPath Path) error {
	if oldPath.key() == newPath.key() {
		return newErr(InvalidArgument, "move_series: source and destination are the same path")
	}
	sr, err := db.lookup(oldPath)
	if err != nil {
		return err
	}
	if _, exists := db.series[newPath.key()]; exists {
		return newErr(AlreadyExists, "series already exists at %s", newPath)
	}

	if err := db.reg.RecordRename(oldPath, newPath, sr.serial); err != nil {
		return err
	}

	delete(db.series, oldPath.key())
	db.series[newPath.key()] = sr
	db.pathBySerial[sr.serial] = newPath
	return nil
}

func (db *Database) RenameFields(path Path, newFields []string) error {
	sr, err := db.lookup(path)
	if err != nil {
		return err
	}
	if err := sr.RenameFields(newFields); err != nil {
		return err
	}
	return db.reg.RecordSeries(path, sr.serial, newFields)
}

func (db *Database) GetFields(path Path) ([]string, error) {
	sr, err := db.lookup(path)
	if err != nil {
		return nil, err
	}
	return sr.fields, nil
}

func (db *Database) Insert(path Path, t int64, x []float64, conflict ConflictMode) error {
	sr, err := db.lookup(path)
	if err != nil {
		return err
	}
	return sr.Insert(t, x, conflict)
}

func (db *Database) Get(path Path, t int64, fields []string, when WhenMode) (int64, []float64, error) {
	sr, err := db.lookup(path)
	if err != nil {
		return 0, nil, err
	}
	return sr.Get(t, fields, when)
}

func (db *Database) GetRange(path Path, start, end int64, fields []string) ([]int64, [][]float64, error) {
	sr, err := db.lookup(path)
	if err != nil {
		return nil, nil, err
	}
	return sr.GetRange(start, end, fields)
}

func (db *Database) GetAll(path Path, fields []string) ([]int64, [][]float64, error) {
	sr, err := db.lookup(path)
	if err != nil {
		return nil, nil, err
	}
	return sr.GetAll(fields)
}

func (db *Database) MemoryConsumption() int {
	return db.mm.Consumption()
}

// CommitDirty opportunistically flushes up to n dirty segments to disk,
// oldest access first, returning the count actually flushed. Intended
// for the server's idle-tick between requests.
func (db *Database) CommitDirty(n int) int {
	return db.mm.Commit(n)
}

// TOCEntry describes one leaf series in a table-of-contents tree.
type TOCEntry struct {
	Serial     int64
	Fields     []string
	Length     int
	Start, End *int64
}

// TOCNode is either a leaf (Entry set) or a folder (Children set).
type TOCNode struct {
	Entry    *TOCEntry
	Children map[string]*TOCNode
}

func hasPrefix(path, prefix Path) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}
	return true
}

// TOC builds a nested directory view rooted at prefix over every series
// whose path begins with prefix.
func (db *Database) TOC(prefix Path) *TOCNode {
	root := &TOCNode{Children: map[string]*TOCNode{}}
	for key, sr := range db.series {
		path := pathFromKey(key)
		if !hasPrefix(path, prefix) {
			continue
		}
		insertTOC(root, path[len(prefix):], sr)
	}
	return root
}

func insertTOC(node *TOCNode, rel Path, sr *Series) {
	if len(rel) == 1 {
		start, end := sr.Bounds()
		node.Children[rel[0]] = &TOCNode{Entry: &TOCEntry{
			Serial: sr.serial, Fields: sr.fields, Length: sr.Len(), Start: start, End: end,
		}}
		return
	}
	child, ok := node.Children[rel[0]]
	if !ok {
		child = &TOCNode{Children: map[string]*TOCNode{}}
		node.Children[rel[0]] = child
	}
	insertTOC(child, rel[1:], sr)
}

// CompactRegister rewrites the recovery log to hold only the current
// live state, discarding historical deletion and rename records that
// would otherwise accumulate forever. Safe to call at any time; segments
// not yet written to disk are flushed first so the snapshot is accurate.
func (db *Database) CompactRegister() error {
	db.mm.ForceCommitAll()
	return db.reg.Compact(db)
}

// Shutdown forces every dirty segment to disk and releases the register.
func (db *Database) Shutdown() error {
	db.mm.ForceCommitAll()
	db.series = map[string]*Series{}
	db.pathBySerial = map[int64]Path{}
	return db.reg.Close()
}
