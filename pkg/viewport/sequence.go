package viewport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/sanonone/scalenav/pkg/persistence"
)

var ErrStepOutOfRange = errors.New("sequence step out of range")

// Sequence is the history of visited ROIs with a cursor. Stepping through
// the history moves the cursor; the ROI change it causes is echoed back
// through Append and must not be recorded again.
type Sequence struct {
	mu      sync.Mutex
	rois    []ROI
	current int
	stepped bool

	journal *persistence.JournalWriter
	log     *slog.Logger
}

func NewSequence() *Sequence {
	return &Sequence{current: -1, log: slog.Default()}
}

// Append records roi unless it is the echo of a step. A ROI without a view
// rectangle inherits the one of the first entry. It reports whether roi was
// recorded.
func (s *Sequence) Append(roi ROI) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stepped {
		s.stepped = false
		return false
	}
	if roi.ViewWH == (Vector2D{}) && len(s.rois) > 0 {
		roi.ViewXY = s.rois[0].ViewXY
		roi.ViewWH = s.rois[0].ViewWH
	}
	s.rois = append(s.rois, roi)
	s.current = len(s.rois) - 1

	if s.journal != nil {
		payload, _ := roi.MarshalBinary()
		if err := s.journal.Append(persistence.OpViewport, payload); err != nil {
			s.log.Error("Failed to journal viewport", "error", err)
		}
	}
	return true
}

func (s *Sequence) StepBack() (ROI, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current <= 0 {
		return ROI{}, false
	}
	return s.moveLocked(s.current - 1), true
}

func (s *Sequence) StepForward() (ROI, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current >= len(s.rois)-1 {
		return ROI{}, false
	}
	return s.moveLocked(s.current + 1), true
}

// SetStep jumps to entry step.
func (s *Sequence) SetStep(step int) (ROI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step < 0 || step >= len(s.rois) {
		s.log.Warn("Sequence step outside bounds", "step", step, "len", len(s.rois))
		return ROI{}, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, step, len(s.rois))
	}
	return s.moveLocked(step), nil
}

func (s *Sequence) moveLocked(step int) ROI {
	s.current = step
	s.stepped = true
	if s.journal != nil {
		if err := s.journal.Append(persistence.OpViewportStep, binary.LittleEndian.AppendUint32(nil, uint32(step))); err != nil {
			s.log.Error("Failed to journal sequence step", "error", err)
		}
	}
	return s.rois[step]
}

// Current returns the cursor, -1 for an empty sequence.
func (s *Sequence) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rois)
}

// ROIs returns a copy of the history.
func (s *Sequence) ROIs() []ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ROI(nil), s.rois...)
}

// Reset replaces the history and puts the cursor on the first entry.
func (s *Sequence) Reset(rois []ROI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rois = append([]ROI(nil), rois...)
	s.current = 0
	if len(s.rois) == 0 {
		s.current = -1
	}
	s.stepped = false
}

// Close flushes and closes the attached journal, if any.
func (s *Sequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// OpenSequence replays the journal at path, if it exists, and keeps it
// attached so that later appends and steps are recorded.
func OpenSequence(path string, logger *slog.Logger) (*Sequence, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := LoadSequence(path)
	if err != nil {
		return nil, err
	}
	s.log = logger
	j, err := persistence.NewJournalWriter(path)
	if err != nil {
		return nil, err
	}
	s.journal = j
	return s, nil
}

// LoadSequence replays a sequence journal. A missing file yields an empty
// sequence.
func LoadSequence(path string) (*Sequence, error) {
	s := NewSequence()
	err := persistence.ReplayJournal(path, func(f persistence.Frame) error {
		switch f.Op {
		case persistence.OpViewport:
			var roi ROI
			if err := roi.UnmarshalBinary(f.Payload); err != nil {
				return err
			}
			s.rois = append(s.rois, roi)
			s.current = len(s.rois) - 1
		case persistence.OpViewportStep:
			if len(f.Payload) != 4 {
				return fmt.Errorf("step record has %d bytes", len(f.Payload))
			}
			step := int(binary.LittleEndian.Uint32(f.Payload))
			if step >= len(s.rois) {
				return fmt.Errorf("%w: journaled step %d of %d", ErrStepOutOfRange, step, len(s.rois))
			}
			s.current = step
		default:
			return fmt.Errorf("%w: 0x%02x in sequence journal", persistence.ErrUnexpectedOp, f.Op)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load viewport sequence: %w", err)
	}
	return s, nil
}

// SaveSequence writes the history of s to a fresh journal at path.
func SaveSequence(path string, s *Sequence) error {
	j, err := persistence.NewJournalWriter(path)
	if err != nil {
		return err
	}
	if err := j.Truncate(); err != nil {
		j.Close()
		return err
	}
	for _, roi := range s.ROIs() {
		payload, _ := roi.MarshalBinary()
		if err := j.Append(persistence.OpViewport, payload); err != nil {
			j.Close()
			return err
		}
	}
	if cur := s.Current(); cur >= 0 && cur != s.Len()-1 {
		if err := j.Append(persistence.OpViewportStep, binary.LittleEndian.AppendUint32(nil, uint32(cur))); err != nil {
			j.Close()
			return err
		}
	}
	if err := j.Sync(); err != nil {
		j.Close()
		return err
	}
	return j.Close()
}
