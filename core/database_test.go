package core

import (
	"reflect"
	"testing"
)

func mustNewSeries(t *testing.T, db *Database, path Path, fields []string) {
	t.Helper()
	if err := db.NewSeries(path, fields); err != nil {
		t.Fatalf("NewSeries(%v): %v", path, err)
	}
}

func mustInsert(t *testing.T, db *Database, path Path, ts int64, x []float64) {
	t.Helper()
	if err := db.Insert(path, ts, x, KeepBoth); err != nil {
		t.Fatalf("Insert(%v, %d): %v", path, ts, err)
	}
}

// Scenario 1 from the testable-properties section.
func TestGetRangeBasic(t *testing.T) {
	db, _, _ := SetupTempDB(t)

	path := Path{"a", "b"}
	mustNewSeries(t, db, path, []string{"v"})
	mustInsert(t, db, path, 100, []float64{1.0})
	mustInsert(t, db, path, 200, []float64{2.0})
	mustInsert(t, db, path, 150, []float64{1.5})

	times, rows, err := db.GetRange(path, 100, 200, nil)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}

	wantT := []int64{100, 150, 200}
	wantX := [][]float64{{1.0}, {1.5}, {2.0}}
	if !reflect.DeepEqual(times, wantT) {
		t.Errorf("times = %v, want %v", times, wantT)
	}
	if !reflect.DeepEqual(rows, wantX) {
		t.Errorf("rows = %v, want %v", rows, wantX)
	}
}

// Scenario 2: crossing max_segment_size triggers exactly one split.
func TestInsertTriggersSplit(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	// Each record costs 24 bytes (8 for t, 2*8 for two fields); 9 records
	// (216 bytes) reach but do not exceed the threshold, the 10th crosses
	// it and triggers the split.
	db.maxSegmentSize = 216

	path := Path{"s"}
	mustNewSeries(t, db, path, []string{"a", "b"})

	for i := int64(1); i <= 10; i++ {
		mustInsert(t, db, path, i, []float64{float64(i), float64(i)})
	}

	sr, err := db.lookup(path)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(sr.segments) != 2 {
		t.Fatalf("expected 2 segments after split, got %d", len(sr.segments))
	}

	total := 0
	for _, seg := range sr.segments {
		total += seg.size
		if seg.serial() != sr.serial {
			t.Errorf("segment id %d does not encode serial %d", seg.id, sr.serial)
		}
	}
	if total != 10 {
		t.Errorf("expected 10 total records across segments, got %d", total)
	}
	if d := sr.segments[0].size - sr.segments[1].size; d < -1 || d > 1 {
		t.Errorf("split sizes differ by more than one: %d vs %d", sr.segments[0].size, sr.segments[1].size)
	}
}

// Scenario 3: keep_both places the new record before the existing one.
func TestInsertKeepBothOrdering(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	path := Path{"s"}
	mustNewSeries(t, db, path, []string{"v"})

	mustInsert(t, db, path, 100, []float64{1.0})
	mustInsert(t, db, path, 100, []float64{2.0})

	times, rows, err := db.GetAll(path, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	wantT := []int64{100, 100}
	wantX := [][]float64{{2.0}, {1.0}}
	if !reflect.DeepEqual(times, wantT) || !reflect.DeepEqual(rows, wantX) {
		t.Errorf("got t=%v x=%v, want t=%v x=%v", times, rows, wantT, wantX)
	}
}

// Scenario 4: replace overwrites in place.
func TestInsertReplace(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	path := Path{"s"}
	mustNewSeries(t, db, path, []string{"v"})

	mustInsert(t, db, path, 100, []float64{1.0})
	if err := db.Insert(path, 100, []float64{9.0}, Replace); err != nil {
		t.Fatalf("Insert replace: %v", err)
	}

	times, rows, err := db.GetAll(path, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if !reflect.DeepEqual(times, []int64{100}) || !reflect.DeepEqual(rows, [][]float64{{9.0}}) {
		t.Errorf("got t=%v x=%v, want t=[100] x=[[9.0]]", times, rows)
	}
}

// Scenario 6: create a nested path, restart, and the TOC survives.
func TestRestartReplaysTOC(t *testing.T) {
	db, path, _ := SetupTempDB(t)

	p := Path{"x", "y", "z"}
	mustNewSeries(t, db, p, []string{"v"})
	mustInsert(t, db, p, 1, []float64{1.0})
	mustInsert(t, db, p, 2, []float64{2.0})

	if err := db.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	db2 := ReopenTempDB(t, path)
	defer db2.Shutdown()

	root := db2.TOC(nil)
	x, ok := root.Children["x"]
	if !ok {
		t.Fatalf("toc missing folder x")
	}
	y, ok := x.Children["y"]
	if !ok {
		t.Fatalf("toc missing folder x/y")
	}
	z, ok := y.Children["z"]
	if !ok || z.Entry == nil {
		t.Fatalf("toc missing leaf x/y/z")
	}
	if z.Entry.Length != 2 {
		t.Errorf("leaf length = %d, want 2", z.Entry.Length)
	}
	if z.Entry.Start == nil || *z.Entry.Start != 1 {
		t.Errorf("leaf start = %v, want 1", z.Entry.Start)
	}
	if z.Entry.End == nil || *z.Entry.End != 2 {
		t.Errorf("leaf end = %v, want 2", z.Entry.End)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	db, path, _ := SetupTempDB(t)
	db.maxSegmentSize = 16 // force several segments

	p := Path{"series"}
	mustNewSeries(t, db, p, []string{"v"})
	for i := int64(0); i < 50; i++ {
		mustInsert(t, db, p, i, []float64{float64(i)})
	}

	wantT, wantX, err := db.GetAll(p, nil)
	if err != nil {
		t.Fatalf("GetAll before restart: %v", err)
	}

	if err := db.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	db2 := ReopenTempDB(t, path)
	defer db2.Shutdown()

	gotT, gotX, err := db2.GetAll(p, nil)
	if err != nil {
		t.Fatalf("GetAll after restart: %v", err)
	}
	if !reflect.DeepEqual(gotT, wantT) {
		t.Errorf("timestamps after restart = %v, want %v", gotT, wantT)
	}
	if !reflect.DeepEqual(gotX, wantX) {
		t.Errorf("rows after restart = %v, want %v", gotX, wantX)
	}
}

func TestCompactRegisterPreservesStateAcrossRestart(t *testing.T) {
	db, path, _ := SetupTempDB(t)

	mustNewSeries(t, db, Path{"a"}, []string{"v"})
	mustInsert(t, db, Path{"a"}, 1, []float64{1})
	mustInsert(t, db, Path{"a"}, 2, []float64{2})

	mustNewSeries(t, db, Path{"b"}, []string{"v"})
	mustInsert(t, db, Path{"b"}, 5, []float64{5})
	if err := db.DeleteSeries(Path{"b"}); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}

	if err := db.CompactRegister(); err != nil {
		t.Fatalf("CompactRegister: %v", err)
	}

	wantT, wantX, err := db.GetAll(Path{"a"}, nil)
	if err != nil {
		t.Fatalf("GetAll before restart: %v", err)
	}

	if err := db.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	db2 := ReopenTempDB(t, path)
	defer db2.Shutdown()

	gotT, gotX, err := db2.GetAll(Path{"a"}, nil)
	if err != nil {
		t.Fatalf("GetAll after restart: %v", err)
	}
	if !reflect.DeepEqual(gotT, wantT) || !reflect.DeepEqual(gotX, wantX) {
		t.Errorf("got t=%v x=%v, want t=%v x=%v", gotT, gotX, wantT, wantX)
	}
	if _, _, err := db2.GetAll(Path{"b"}, nil); err == nil {
		t.Errorf("expected deleted series b to stay gone after compaction and restart")
	}
}

func TestDefragmentIsIdempotent(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	db.maxSegmentSize = 16

	p := Path{"series"}
	mustNewSeries(t, db, p, []string{"v"})
	for i := int64(20); i > 0; i-- {
		mustInsert(t, db, p, i, []float64{float64(i)})
	}

	before, beforeX, err := db.GetAll(p, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}

	if err := db.DefragmentSeries(p); err != nil {
		t.Fatalf("first defragment: %v", err)
	}
	mid, midX, err := db.GetAll(p, nil)
	if err != nil {
		t.Fatalf("GetAll after first defragment: %v", err)
	}
	if !reflect.DeepEqual(before, mid) || !reflect.DeepEqual(beforeX, midX) {
		t.Fatalf("defragment changed contents: before=%v/%v after=%v/%v", before, beforeX, mid, midX)
	}

	if err := db.DefragmentSeries(p); err != nil {
		t.Fatalf("second defragment: %v", err)
	}
	after, afterX, err := db.GetAll(p, nil)
	if err != nil {
		t.Fatalf("GetAll after second defragment: %v", err)
	}
	if !reflect.DeepEqual(mid, after) || !reflect.DeepEqual(midX, afterX) {
		t.Errorf("second defragment was not idempotent")
	}
}

func TestDeleteSeriesRemovesFromTOC(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	p := Path{"a"}
	mustNewSeries(t, db, p, []string{"v"})
	mustInsert(t, db, p, 1, []float64{1})

	if err := db.DeleteSeries(p); err != nil {
		t.Fatalf("DeleteSeries: %v", err)
	}
	if _, err := db.lookup(p); err == nil {
		t.Fatalf("expected series to be gone after delete")
	}
	if _, _, err := db.GetAll(p, nil); err == nil {
		t.Errorf("expected NotFound after delete")
	}
	if _, ok := db.TOC(nil).Children["a"]; ok {
		t.Errorf("expected deleted series to be absent from the TOC")
	}
}

func TestMoveSeriesRejectsExistingDestination(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	mustNewSeries(t, db, Path{"a"}, []string{"v"})
	mustNewSeries(t, db, Path{"b"}, []string{"v"})

	err := db.MoveSeries(Path{"a"}, Path{"b"})
	if err == nil {
		t.Fatalf("expected AlreadyExists moving onto an existing path")
	}
	if e, ok := err.(*Error); !ok || e.Kind != AlreadyExists {
		t.Errorf("got error %v, want AlreadyExists", err)
	}
}

func TestGetWhenModes(t *testing.T) {
	db, _, _ := SetupTempDB(t)
	p := Path{"s"}
	mustNewSeries(t, db, p, []string{"v"})
	mustInsert(t, db, p, 10, []float64{10})
	mustInsert(t, db, p, 20, []float64{20})

	if _, x, err := db.Get(p, 10, nil, Before); err != nil || x[0] != 10 {
		t.Errorf("Get(10, before) = %v, %v, want [10], nil", x, err)
	}
	if _, x, err := db.Get(p, 20, nil, After); err != nil || x[0] != 20 {
		t.Errorf("Get(20, after) = %v, %v, want [20], nil", x, err)
	}
	if _, _, err := db.Get(p, 15, nil, Exact); err == nil {
		t.Errorf("expected NotFound for exact match in a gap")
	}
	if _, x, err := db.Get(p, 15, nil, Before); err != nil || x[0] != 10 {
		t.Errorf("Get(15, before) = %v, %v, want [10], nil", x, err)
	}
	if _, x, err := db.Get(p, 15, nil, After); err != nil || x[0] != 20 {
		t.Errorf("Get(15, after) = %v, %v, want [20], nil", x, err)
	}
}
