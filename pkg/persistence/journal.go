package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// JournalWriter appends frames to an append-only file.
type JournalWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
	path string
}

// NewJournalWriter opens or creates the journal at path.
func NewJournalWriter(path string) (*JournalWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &JournalWriter{
		file: file,
		buf:  buf,
		fw:   NewFrameWriter(buf),
		path: path,
	}, nil
}

// Append writes one frame. It is buffered until Flush or Sync.
func (j *JournalWriter) Append(op OpCode, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fw.WriteFrame(op, payload)
}

func (j *JournalWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buf.Flush()
}

// Sync flushes the buffer and fsyncs the file.
func (j *JournalWriter) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Truncate clears the journal.
func (j *JournalWriter) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf.Reset(j.file)
	if err := j.file.Truncate(0); err != nil {
		return err
	}
	_, err := j.file.Seek(0, io.SeekStart)
	return err
}

func (j *JournalWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

func (j *JournalWriter) Path() string {
	return j.path
}

// ReplayJournal calls fn for every frame in the journal at path, in order.
// A torn frame at the tail (crash during append) ends the replay without
// error; corruption before the tail is reported.
func ReplayJournal(path string, fn func(Frame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		frame, _, err := ReadFrame(r)
		if err == io.EOF || errors.Is(err, ErrIncompleteFrame) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("journal %s: %w", path, err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
