package core

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"
)

const registerFileName = "register.log"

const (
	seriesMarker byte = 'A'
	segmentMarker byte = 'B'
	renameMarker  byte = 'C' // resolves the move_series durability open question
)

type seriesPayload struct {
	Path    []string
	Serial  int64
	Fields  []string
	Deleted bool
}

type segmentPayload struct {
	Serial    int64
	SegID     int64
	Start     *int64
	End       *int64
	Size      int
	NumFields int
}

type renamePayload struct {
	OldPath []string
	NewPath []string
	Serial  int64
}

// Register is the append-only recovery log: every series and segment
// lifecycle event is framed and appended here before it is considered
// durable, so that replay can reconstitute the database without reading
// any segment payload.
type Register struct {
	f *os.File
}

// OpenRegister opens (creating if absent) the register file in dir,
// durably: create, fsync the file, then fsync the directory entry.
func OpenRegister(dir string) (*Register, error) {
	f, err := createFileDurable(dir, registerFileName)
	if err != nil {
		return nil, newErr(IOFailure, "open register: %v", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, newErr(IOFailure, "seek register to end: %v", err)
	}
	return &Register{f: f}, nil
}

func (r *Register) Close() error {
	return r.f.Close()
}

func frameRecord(marker byte, payload any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, newErr(InvariantViolation, "encode register record: %v", err)
	}

	frame := make([]byte, 1+8+buf.Len())
	frame[0] = marker
	binary.BigEndian.PutUint64(frame[1:9], uint64(buf.Len()))
	copy(frame[9:], buf.Bytes())
	return frame, nil
}

func (r *Register) append(marker byte, payload any) error {
	frame, err := frameRecord(marker, payload)
	if err != nil {
		return err
	}

	if _, err := r.f.Write(frame); err != nil {
		return newErr(IOFailure, "append register record: %v", err)
	}
	if err := r.f.Sync(); err != nil {
		return newErr(IOFailure, "sync register: %v", err)
	}
	return nil
}

func (r *Register) RecordSeries(path Path, serial int64, fields []string) error {
	return r.append(seriesMarker, seriesPayload{Path: path, Serial: serial, Fields: fields})
}

func (r *Register) RecordSeriesDeletion(path Path, serial int64) error {
	return r.append(seriesMarker, seriesPayload{Path: path, Serial: serial, Deleted: true})
}

func (r *Register) RecordSegment(s *Segment) error {
	return r.append(segmentMarker, segmentPayload{
		Serial:    s.serial(),
		SegID:     s.id,
		Start:     s.start,
		End:       s.end,
		Size:      s.size,
		NumFields: s.numFields,
	})
}

// Compact rewrites the register from scratch as a minimal snapshot: one
// series record per live series and one segment record per live segment, with
// no deletion or rename history. The log otherwise grows without bound
// during normal operation.
//
// It reuses the atomic-replace helper in file.go so a crash mid-rewrite
// cannot leave the register truncated.
func (r *Register) Compact(db *Database) error {
	var buf bytes.Buffer

	for serial, path := range db.pathBySerial {
		sr, ok := db.series[path.key()]
		if !ok {
			continue
		}
		frame, err := frameRecord(seriesMarker, seriesPayload{Path: path, Serial: serial, Fields: sr.fields})
		if err != nil {
			return err
		}
		buf.Write(frame)

		for _, seg := range sr.segments {
			frame, err := frameRecord(segmentMarker, segmentPayload{
				Serial: serial, SegID: seg.id, Start: seg.start, End: seg.end,
				Size: seg.size, NumFields: seg.numFields,
			})
			if err != nil {
				return err
			}
			buf.Write(frame)
		}
	}

	newFile, err := writeFileAtomic(r.f, buf.Bytes())
	if err != nil {
		return newErr(IOFailure, "compact register: %v", err)
	}
	r.f = newFile
	if _, err := r.f.Seek(0, io.SeekEnd); err != nil {
		return newErr(IOFailure, "seek compacted register to end: %v", err)
	}
	return nil
}

func (r *Register) RecordRename(oldPath, newPath Path, serial int64) error {
	return r.append(renameMarker, renamePayload{OldPath: oldPath, NewPath: newPath, Serial: serial})
}

type segMeta struct {
	id         int64
	start, end *int64
	size       int
	numFields  int
}

type seriesState struct {
	path     Path
	fields   []string
	deleted  bool
	segments map[int64]*segMeta
}

// ReplayResult is the outcome of folding every register record into
// final per-series state, keyed by serial.
type ReplayResult struct {
	Series map[int64]*seriesState
}

// Replay reads the register sequentially, folding series and segment
// events in order, and stops silently at the first truncated or
// malformed trailing record (an incomplete shutdown, not a corrupt log).
func Replay(dir string) (*ReplayResult, error) {
	path := dir + string(os.PathSeparator) + registerFileName
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &ReplayResult{Series: map[int64]*seriesState{}}, nil
	}
	if err != nil {
		return nil, newErr(IOFailure, "open register for replay: %v", err)
	}
	defer f.Close()

	series := map[int64]*seriesState{}
	var renames []renamePayload

	header := make([]byte, 9)
replayLoop:
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			break // EOF or short read: stop silently
		}
		marker := header[0]
		length := binary.BigEndian.Uint64(header[1:9])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			break
		}

		dec := gob.NewDecoder(bytes.NewReader(payload))
		switch marker {
		case seriesMarker:
			var p seriesPayload
			if err := dec.Decode(&p); err != nil {
				break replayLoop
			}
			st, ok := series[p.Serial]
			if !ok {
				st = &seriesState{segments: map[int64]*segMeta{}}
				series[p.Serial] = st
			}
			st.path = p.Path
			st.fields = p.Fields
			st.deleted = p.Deleted

		case segmentMarker:
			var p segmentPayload
			if err := dec.Decode(&p); err != nil {
				break replayLoop
			}
			st, ok := series[p.Serial]
			if !ok {
				st = &seriesState{segments: map[int64]*segMeta{}}
				series[p.Serial] = st
			}
			if p.Size == 0 {
				delete(st.segments, p.SegID)
			} else {
				st.segments[p.SegID] = &segMeta{
					id: p.SegID, start: p.Start, end: p.End,
					size: p.Size, numFields: p.NumFields,
				}
			}

		case renameMarker:
			var p renamePayload
			if err := dec.Decode(&p); err != nil {
				break replayLoop
			}
			renames = append(renames, p)

		default:
			// unknown marker in a trailing position: stop silently
			break replayLoop
		}
	}

	if err := applyRenames(series, renames); err != nil {
		return nil, err
	}
	return &ReplayResult{Series: series}, nil
}

func applyRenames(series map[int64]*seriesState, renames []renamePayload) error {
	for _, rn := range renames {
		if st, ok := series[rn.Serial]; ok {
			st.path = rn.NewPath
		}
	}
	return nil
}
