package core

import (
	"os"
	"reflect"
	"testing"
)

func newTestSegment(t *testing.T, dir string, id int64, ts []int64, x []float64, numFields int) *Segment {
	t.Helper()
	reg, err := OpenRegister(dir)
	if err != nil {
		t.Fatalf("OpenRegister: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	mm := NewMemoryManager(100, reg)
	return newSegmentFromData(dir, id, numFields, ts, x, mm)
}

func TestSegmentInsertPrependAppendMiddle(t *testing.T) {
	dir := tempDirT(t)
	seg := newTestSegment(t, dir, 1, []int64{10, 20, 30}, []float64{1, 2, 3}, 1)

	if _, err := seg.Insert(5, []float64{0.5}, KeepBoth); err != nil {
		t.Fatalf("prepend insert: %v", err)
	}
	if _, err := seg.Insert(35, []float64{3.5}, KeepBoth); err != nil {
		t.Fatalf("append insert: %v", err)
	}
	if _, err := seg.Insert(25, []float64{2.5}, KeepBoth); err != nil {
		t.Fatalf("middle insert: %v", err)
	}

	wantT := []int64{5, 10, 20, 25, 30, 35}
	if !reflect.DeepEqual(seg.t, wantT) {
		t.Errorf("t = %v, want %v", seg.t, wantT)
	}
}

func TestSegmentGetModes(t *testing.T) {
	dir := tempDirT(t)
	seg := newTestSegment(t, dir, 1, []int64{10, 20, 30}, []float64{1, 2, 3}, 1)

	if ts, _, err := seg.Get(10, nil, Exact); err != nil || ts != 10 {
		t.Errorf("Get(10, exact) = %d, %v", ts, err)
	}
	if _, _, err := seg.Get(15, nil, Exact); err == nil {
		t.Errorf("expected NotFound for exact miss")
	}
	if ts, _, err := seg.Get(15, nil, After); err != nil || ts != 20 {
		t.Errorf("Get(15, after) = %d, %v, want 20", ts, err)
	}
	if ts, _, err := seg.Get(15, nil, Before); err != nil || ts != 10 {
		t.Errorf("Get(15, before) = %d, %v, want 10", ts, err)
	}
	if _, _, err := seg.Get(30, nil, After); err != nil {
		t.Errorf("Get(30, after) should succeed at the boundary: %v", err)
	}
	if _, _, err := seg.Get(40, nil, After); err == nil {
		t.Errorf("expected NotFound past the end with after")
	}
}

func TestSegmentSplitPreservesOrderAndIDs(t *testing.T) {
	dir := tempDirT(t)
	ts := []int64{1, 2, 3, 4, 5}
	x := []float64{1, 2, 3, 4, 5}
	seg := newTestSegment(t, dir, 7, ts, x, 1)

	ids := []int64{100, 101, 102}
	newSegs, err := seg.Split(ids)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(newSegs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(newSegs))
	}
	for i, s := range newSegs {
		if s.id != ids[i] {
			t.Errorf("segment %d id = %d, want %d", i, s.id, ids[i])
		}
	}

	var gotT []int64
	var gotX []float64
	for _, s := range newSegs {
		gotT = append(gotT, s.t...)
		gotX = append(gotX, s.x...)
	}
	if !reflect.DeepEqual(gotT, ts) {
		t.Errorf("concatenated t = %v, want %v", gotT, ts)
	}
	if !reflect.DeepEqual(gotX, x) {
		t.Errorf("concatenated x = %v, want %v", gotX, x)
	}

	total := 0
	for _, s := range newSegs {
		total += s.size
	}
	if total != 5 {
		t.Errorf("split total size = %d, want 5", total)
	}
}

func TestSegmentWriteAndLoadRoundTrip(t *testing.T) {
	dir := tempDirT(t)
	reg, err := OpenRegister(dir)
	if err != nil {
		t.Fatalf("OpenRegister: %v", err)
	}
	defer reg.Close()
	mm := NewMemoryManager(100, reg)

	ts := []int64{1, 2, 3}
	x := []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5} // 2 fields
	seg := newSegmentFromData(dir, 42, 2, ts, x, mm)

	if err := seg.writeToDisk(reg); err != nil {
		t.Fatalf("writeToDisk: %v", err)
	}
	if !seg.diskSynced {
		t.Fatalf("expected diskSynced after writeToDisk")
	}

	seg.t, seg.x = nil, nil
	seg.memSynced = false

	if err := seg.loadFromDisk(); err != nil {
		t.Fatalf("loadFromDisk: %v", err)
	}
	if !reflect.DeepEqual(seg.t, ts) {
		t.Errorf("reloaded t = %v, want %v", seg.t, ts)
	}
	if !reflect.DeepEqual(seg.x, x) {
		t.Errorf("reloaded x = %v, want %v", seg.x, x)
	}
}

func TestSegmentDeleteRemovesFile(t *testing.T) {
	dir := tempDirT(t)
	reg, err := OpenRegister(dir)
	if err != nil {
		t.Fatalf("OpenRegister: %v", err)
	}
	defer reg.Close()
	mm := NewMemoryManager(100, reg)

	seg := newSegmentFromData(dir, 9, 1, []int64{1}, []float64{1}, mm)
	if err := seg.writeToDisk(reg); err != nil {
		t.Fatalf("writeToDisk: %v", err)
	}

	seg.Delete()
	if err := seg.writeToDisk(reg); err != nil {
		t.Fatalf("writeToDisk after delete: %v", err)
	}

	if _, err := os.Stat(seg.path()); !os.IsNotExist(err) {
		t.Errorf("expected segment file to be removed, stat err = %v", err)
	}
}
