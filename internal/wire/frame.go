package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameSize bounds a single frame's payload, guarding against a
// corrupt or malicious length prefix demanding an unreasonable allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// readFrame reads one length-prefixed frame: a 4-byte little-endian
// payload length followed by that many bytes, per spec.md §6. Grounded
// on original_source/src/client.rs's get_size/read_message pair.
func readFrame(r io.Reader) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size > maxFrameSize {
		return nil, errors.Errorf("wire: frame size %d exceeds maximum %d", size, maxFrameSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "wire: failed to read frame payload")
	}
	return data, nil
}

// writeFrame writes payload as one length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(payload)))

	if _, err := w.Write(sizeBuf[:]); err != nil {
		return errors.Wrap(err, "wire: failed to write frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "wire: failed to write frame payload")
	}
	return nil
}

// ReadRequest reads and decodes one Request frame.
func ReadRequest(r io.Reader) (Request, error) {
	data, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := msgpack.Unmarshal(data, &req); err != nil {
		return Request{}, errors.Wrap(err, "wire: failed to decode request")
	}
	return req, nil
}

// WriteResponse encodes and writes one Response frame.
func WriteResponse(w io.Writer, resp Response) error {
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "wire: failed to encode response")
	}
	return writeFrame(w, data)
}

// WriteRequest encodes and writes one Request frame. The client-side
// counterpart to ReadRequest, used by anything speaking this protocol
// from the other end of the connection.
func WriteRequest(w io.Writer, req Request) error {
	data, err := msgpack.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "wire: failed to encode request")
	}
	return writeFrame(w, data)
}

// ReadResponse reads and decodes one Response frame. The client-side
// counterpart to WriteResponse.
func ReadResponse(r io.Reader) (Response, error) {
	data, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return Response{}, errors.Wrap(err, "wire: failed to decode response")
	}
	return resp, nil
}
