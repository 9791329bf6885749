package persistence

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	if err := fw.WriteFrame(OpInfluence, []byte("payload")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := fw.WriteFrame(OpNeighbors, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	frame, n, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Op != OpInfluence || string(frame.Payload) != "payload" || n != HeaderSize+7 {
		t.Errorf("unexpected frame %+v (%d bytes)", frame, n)
	}
	frame, _, err = ReadFrame(&buf)
	if err != nil || frame.Op != OpNeighbors || len(frame.Payload) != 0 {
		t.Errorf("unexpected empty frame %+v: %v", frame, err)
	}
	if _, _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("expected io.EOF at the end, got %v", err)
	}
}

func TestFrameCorruption(t *testing.T) {
	var buf bytes.Buffer
	NewFrameWriter(&buf).WriteFrame(OpHierarchy, []byte{1, 2, 3, 4})
	raw := buf.Bytes()

	t.Run("Checksum", func(t *testing.T) {
		c := append([]byte(nil), raw...)
		c[len(c)-1] ^= 0xFF
		if _, _, err := ReadFrame(bytes.NewReader(c)); !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("expected ErrChecksumMismatch, got %v", err)
		}
	})
	t.Run("Magic", func(t *testing.T) {
		c := append([]byte(nil), raw...)
		c[0] = 0x00
		if _, _, err := ReadFrame(bytes.NewReader(c)); !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("expected ErrInvalidMagic, got %v", err)
		}
	})
	t.Run("Truncated", func(t *testing.T) {
		if _, _, err := ReadFrame(bytes.NewReader(raw[:len(raw)-2])); !errors.Is(err, ErrIncompleteFrame) {
			t.Errorf("expected ErrIncompleteFrame, got %v", err)
		}
	})
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artefact.hsne")
	if err := WriteFileAtomic(path, OpNeighbors, []byte("abc")); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}
	got, err := ReadFileFrame(path, OpNeighbors)
	if err != nil || string(got) != "abc" {
		t.Fatalf("ReadFileFrame: %q, %v", got, err)
	}
	if _, err := ReadFileFrame(path, OpInfluence); !errors.Is(err, ErrUnexpectedOp) {
		t.Errorf("expected ErrUnexpectedOp, got %v", err)
	}
}

func TestJournalReplayToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewports.journal")
	j, err := NewJournalWriter(path)
	if err != nil {
		t.Fatalf("NewJournalWriter failed: %v", err)
	}
	for _, p := range []string{"a", "bb", "ccc"} {
		if err := j.Append(OpViewport, []byte(p)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Simulate a crash in the middle of the last append.
	info, _ := os.Stat(path)
	if err := os.Truncate(path, info.Size()-1); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}

	var got []string
	err = ReplayJournal(path, func(f Frame) error {
		got = append(got, string(f.Payload))
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayJournal failed: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "bb" {
		t.Errorf("expected [a bb], got %v", got)
	}
}

func TestJournalTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewports.journal")
	j, _ := NewJournalWriter(path)
	defer j.Close()
	j.Append(OpViewport, []byte("x"))
	if err := j.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := j.Truncate(); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	j.Append(OpViewport, []byte("y"))
	j.Flush()

	var got []string
	ReplayJournal(path, func(f Frame) error {
		got = append(got, string(f.Payload))
		return nil
	})
	if len(got) != 1 || got[0] != "y" {
		t.Errorf("expected [y], got %v", got)
	}
}
