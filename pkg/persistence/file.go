package persistence

import (
	"bufio"
	"fmt"
	"os"
)

// WriteFileAtomic writes a single frame to path through a temporary file and
// a rename, so that readers never observe a partially written artefact.
func WriteFileAtomic(path string, op OpCode, payload []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	w := bufio.NewWriter(f)
	if err := NewFrameWriter(w).WriteFrame(op, payload); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadFileFrame reads the single frame stored at path and checks its opcode.
func ReadFileFrame(path string, op OpCode) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	frame, _, err := ReadFrame(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if frame.Op != op {
		return nil, fmt.Errorf("%s: %w (got 0x%02x, want 0x%02x)", path, ErrUnexpectedOp, frame.Op, op)
	}
	return frame.Payload, nil
}
