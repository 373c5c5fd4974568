// Package wire implements the length-framed request/response protocol
// the server and client speak over TCP: an 8-byte big-endian length
// prefix followed by a gob-encoded payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/regiscop/decuma/core"
)

// maxFrameSize bounds a single frame so a corrupt or hostile length
// prefix cannot make a peer allocate unbounded memory.
const maxFrameSize = 256 << 20

// WriteRequest frames and sends a request.
func WriteRequest(w io.Writer, req core.Request) error {
	return writeFrame(w, req)
}

// ReadRequest reads and decodes one framed request.
func ReadRequest(r io.Reader) (core.Request, error) {
	var req core.Request
	if err := readFrame(r, &req); err != nil {
		return core.Request{}, err
	}
	return req, nil
}

// WriteResponse frames and sends a response.
func WriteResponse(w io.Writer, resp core.Response) error {
	return writeFrame(w, resp)
}

// ReadResponse reads and decodes one framed response.
func ReadResponse(r io.Reader) (core.Response, error) {
	var resp core.Response
	if err := readFrame(r, &resp); err != nil {
		return core.Response{}, err
	}
	return resp, nil
}

func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}

	if buf.Len() > maxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit %d", buf.Len(), maxFrameSize)
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint64(header, uint64(buf.Len()))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any) error {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	length := binary.BigEndian.Uint64(header)
	if length > maxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("wire: read payload: %w", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	return nil
}
