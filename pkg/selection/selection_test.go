package selection

import (
	"slices"
	"testing"

	"github.com/sanonone/scalenav/pkg/core/graph"
)

func TestGate(t *testing.T) {
	var g Gate
	if !g.Pass() {
		t.Fatal("idle gate must pass")
	}
	g.Arm(2)
	if g.State() != Suppressing {
		t.Fatalf("expected suppressing, got %v", g.State())
	}
	if g.Pass() || g.Pass() {
		t.Error("armed gate must swallow two echoes")
	}
	if g.State() != Idle || !g.Pass() {
		t.Error("gate should be idle after the echoes")
	}
	g.Arm(1)
	g.Reset()
	if !g.Pass() {
		t.Error("reset gate must pass")
	}
}

func TestApply(t *testing.T) {
	localToBottom := graph.LandmarkMap{{0, 1, 2}, {5, 3}, {}}
	if got := Apply(localToBottom, []uint32{1, 0, 7}); !slices.Equal(got, []uint32{0, 1, 2, 3, 5}) {
		t.Errorf("got %v", got)
	}

	bottomToLocal := graph.NewLandmarkMapSingle(6)
	bottomToLocal[0], bottomToLocal[3], bottomToLocal[5] = 0, 1, 1
	if got := ApplySingle(bottomToLocal, []uint32{5, 4, 3, 0, 9}); !slices.Equal(got, []uint32{0, 1}) {
		t.Errorf("got %v", got)
	}
}

func TestLinkerSuppressesEcho(t *testing.T) {
	type event struct {
		side Side
		ids  []uint32
	}
	var events []event
	var l *Linker
	l = NewLinker(func(target Side, ids []uint32) {
		events = append(events, event{target, ids})
		// The target reports the new selection back synchronously.
		if _, ok := l.Propagate(target, ids); ok {
			t.Error("echo was propagated")
		}
	})

	bottomToLocal := graph.NewLandmarkMapSingle(4)
	bottomToLocal[2], bottomToLocal[3] = 0, 0
	l.SetMaps(Maps{LocalToBottom: graph.LandmarkMap{{2, 3}}, BottomToLocal: bottomToLocal})

	if _, ok := l.Propagate(Embedding, []uint32{0}); !ok {
		t.Fatal("user selection was swallowed")
	}
	if len(events) != 1 || events[0].side != Data || !slices.Equal(events[0].ids, []uint32{2, 3}) {
		t.Fatalf("unexpected events %v", events)
	}

	// A fresh selection on the data side goes through.
	if _, ok := l.Propagate(Data, []uint32{3}); !ok {
		t.Fatal("second user selection was swallowed")
	}
	if len(events) != 2 || events[1].side != Embedding || !slices.Equal(events[1].ids, []uint32{0}) {
		t.Errorf("unexpected events %v", events)
	}
	if l.Gate(Embedding).State() != Idle || l.Gate(Data).State() != Idle {
		t.Error("gates should be idle after the round trips")
	}
}

func TestLinkerWithoutSink(t *testing.T) {
	bottomToLocal := graph.NewLandmarkMapSingle(4)
	bottomToLocal[2], bottomToLocal[3] = 0, 0
	l := NewLinker(nil)
	l.SetMaps(Maps{LocalToBottom: graph.LandmarkMap{{2, 3}}, BottomToLocal: bottomToLocal})

	// Alternating sides: nothing echoes, so no selection may be swallowed.
	for i := 0; i < 3; i++ {
		got, ok := l.Propagate(Embedding, []uint32{0})
		if !ok || !slices.Equal(got, []uint32{2, 3}) {
			t.Fatalf("round %d: embedding selection gave %v, %v", i, got, ok)
		}
		got, ok = l.Propagate(Data, []uint32{3})
		if !ok || !slices.Equal(got, []uint32{0}) {
			t.Fatalf("round %d: data selection gave %v, %v", i, got, ok)
		}
	}
	if l.Gate(Embedding).State() != Idle || l.Gate(Data).State() != Idle {
		t.Error("gates should stay idle without a sink")
	}
}
