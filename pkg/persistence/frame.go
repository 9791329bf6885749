// Package persistence implements the CRC-checked binary framing shared by the
// hierarchy cache artefacts and the viewport journal.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	// MagicByte marks the start of a valid frame.
	MagicByte = 0xA5

	// HeaderSize is 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10
)

// OpCode identifies the kind of payload carried by a frame.
type OpCode byte

const (
	OpHierarchy    OpCode = 0x01
	OpInfluence    OpCode = 0x02
	OpNeighbors    OpCode = 0x03
	OpViewport     OpCode = 0x04
	OpViewportStep OpCode = 0x05
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not a frame stream.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the stream ended in the middle of a frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrUnexpectedOp is returned when a frame carries a different payload kind than requested.
	ErrUnexpectedOp = errors.New("unexpected frame opcode")
)

// Frame is a decoded frame.
type Frame struct {
	Op      OpCode
	Payload []byte
}

// FrameWriter writes binary frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes payload into a frame.
// Frame Format: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)]
func (fw *FrameWriter) WriteFrame(op OpCode, payload []byte) error {
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = byte(op)
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// ReadFrame reads and validates the next frame. It returns the frame, the
// number of bytes consumed and an error. A clean end of stream at a frame
// boundary returns io.EOF.
func ReadFrame(r io.Reader) (Frame, int, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}

	op := OpCode(header[1])
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, HeaderSize, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return Frame{}, HeaderSize + int(length), ErrChecksumMismatch
	}
	return Frame{Op: op, Payload: payload}, HeaderSize + int(length), nil
}
