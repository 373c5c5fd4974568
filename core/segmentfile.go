package core

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/xxh3"
)

// Segment file layout: build the full record in memory, checksum it,
// then write it out in a single call. A segment file holds exactly one
// frame: the whole buffer, not one frame per record.
//
//	magic(4) = "TSG1"
//	checksum(8, xxh3 over everything below)
//	numRecords(4, big-endian)
//	numFields(4, big-endian)
//	t[numRecords]  (int64, little-endian)
//	x[numRecords*numFields] (float64 bit pattern, little-endian)
var segmentMagic = [4]byte{'T', 'S', 'G', '1'}

const segmentHeaderLen = 4 + 8 + 4 + 4

func encodeSegmentFile(t []int64, x []float64, numFields int) []byte {
	n := len(t)
	body := make([]byte, 8+n*8+len(x)*8)

	binary.BigEndian.PutUint32(body[:4], uint32(n))
	binary.BigEndian.PutUint32(body[4:8], uint32(numFields))

	off := 8
	for _, v := range t {
		binary.LittleEndian.PutUint64(body[off:off+8], uint64(v))
		off += 8
	}
	for _, v := range x {
		binary.LittleEndian.PutUint64(body[off:off+8], math.Float64bits(v))
		off += 8
	}

	sum := xxh3.Hash(body)

	buf := make([]byte, segmentHeaderLen+len(body))
	copy(buf[:4], segmentMagic[:])
	binary.BigEndian.PutUint64(buf[4:12], sum)
	copy(buf[12:], body)
	return buf
}

func decodeSegmentFile(buf []byte) (t []int64, x []float64, numFields int, err error) {
	if len(buf) < segmentHeaderLen {
		return nil, nil, 0, newErr(IOFailure, "segment file too short: %d bytes", len(buf))
	}
	if [4]byte(buf[:4]) != segmentMagic {
		return nil, nil, 0, newErr(IOFailure, "segment file has bad magic")
	}
	wantSum := binary.BigEndian.Uint64(buf[4:12])
	body := buf[12:]
	if got := xxh3.Hash(body); got != wantSum {
		return nil, nil, 0, newErr(IOFailure, "segment file checksum mismatch: got %x want %x", got, wantSum)
	}

	n := int(binary.BigEndian.Uint32(body[:4]))
	numFields = int(binary.BigEndian.Uint32(body[4:8]))

	off := 8
	t = make([]int64, n)
	for i := range t {
		t[i] = int64(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}
	x = make([]float64, n*numFields)
	for i := range x {
		x[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
		off += 8
	}

	return t, x, numFields, nil
}

// writeSegmentFile writes the segment buffers to path, truncating any
// existing file, then fsyncs the data before returning. A crash before
// the fsync completes can leave a torn file; decodeSegmentFile rejects
// it through the checksum.
func writeSegmentFile(path string, t []int64, x []float64, numFields int) error {
	buf := encodeSegmentFile(t, x, numFields)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return newErr(IOFailure, "create segment file %q: %v", path, err)
	}
	defer f.Close()

	if _, err := f.Write(buf); err != nil {
		return newErr(IOFailure, "write segment file %q: %v", path, err)
	}
	if err := f.Sync(); err != nil {
		return newErr(IOFailure, "sync segment file %q: %v", path, err)
	}
	return nil
}

// readSegmentFile memory-maps path read-only and decodes it. The mapping
// is closed before returning; for a segment of this size a one-shot mmap
// read costs one less copy than a plain Read into a freshly allocated
// buffer for the page cache to warm.
func readSegmentFile(path string) (t []int64, x []float64, numFields int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, newErr(IOFailure, "open segment file %q: %v", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, 0, newErr(IOFailure, "stat segment file %q: %v", path, err)
	}
	if fi.Size() == 0 {
		return nil, nil, 0, newErr(IOFailure, "segment file %q is empty", path)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, 0, newErr(IOFailure, "mmap segment file %q: %v", path, err)
	}
	defer m.Unmap()

	t, x, numFields, err = decodeSegmentFile(m)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%q: %w", path, err)
	}
	return t, x, numFields, nil
}
