package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// maxFrameSize bounds a single envelope's encoded length, guarding the
// server against a malicious or corrupt length prefix forcing an
// unbounded allocation.
const maxFrameSize = 16 << 20

// ReadFrame reads one uint16_le length prefix followed by that many bytes
// from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	if int(n) > maxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body as a uint16_le length prefix followed by its bytes.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > 1<<16-1 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadRequest reads and decodes one Request frame from r.
func ReadRequest(r io.Reader) (Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := yaml.Unmarshal(body, &req); err != nil {
		return Request{}, fmt.Errorf("wire: decode request: %w", err)
	}
	return req, nil
}

// WriteRequest encodes req and writes it as one frame to w.
func WriteRequest(w io.Writer, req Request) error {
	body, err := yaml.Marshal(req)
	if err != nil {
		return fmt.Errorf("wire: encode request: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadResponse reads and decodes one Response frame from r.
func ReadResponse(r io.Reader) (Response, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := yaml.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("wire: decode response: %w", err)
	}
	return resp, nil
}

// WriteResponse encodes resp and writes it as one frame to w.
func WriteResponse(w io.Writer, resp Response) error {
	body, err := yaml.Marshal(resp)
	if err != nil {
		return fmt.Errorf("wire: encode response: %w", err)
	}
	return WriteFrame(w, body)
}
