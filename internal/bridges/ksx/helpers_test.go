package ksx

import (
	"bytes"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
	"github.com/nerrad567/gray-logic-homenet/internal/property"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type frameRecorder struct {
	frames [][]byte
}

func (r *frameRecorder) Write(p []byte) (int, error) {
	r.frames = append(r.frames, bytes.Clone(p))
	return len(p), nil
}

func (r *frameRecorder) reset() { r.frames = nil }

// packets decodes every recorded frame.
func (r *frameRecorder) packets(t *testing.T) []Packet {
	t.Helper()
	out := make([]Packet, 0, len(r.frames))
	for _, f := range r.frames {
		p, _, err := Decode(f)
		if err != nil {
			t.Fatalf("recorded frame % X does not decode: %v", f, err)
		}
		out = append(out, p)
	}
	return out
}

func (r *frameRecorder) last(t *testing.T) Packet {
	t.Helper()
	ps := r.packets(t)
	if len(ps) == 0 {
		t.Fatal("no frame was written")
	}
	return ps[len(ps)-1]
}

type recordingListener struct {
	changes map[Address][][]property.Value
	errors  map[Address][]ErrorCode
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		changes: make(map[Address][][]property.Value),
		errors:  make(map[Address][]ErrorCode),
	}
}

func (l *recordingListener) PropertyChanged(dc *DeviceContext, changed []property.Value) {
	l.changes[dc.Address()] = append(l.changes[dc.Address()], changed)
}

func (l *recordingListener) ErrorOccurred(dc *DeviceContext, code ErrorCode) {
	l.errors[dc.Address()] = append(l.errors[dc.Address()], code)
}

func (l *recordingListener) lastChange(addr Address) []property.Value {
	all := l.changes[addr]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type testNetwork struct {
	*Network
	q        *eventloop.Manual
	wire     *frameRecorder
	listener *recordingListener
}

// newTestNetwork returns an attached network on a manual clock.
func newTestNetwork(t *testing.T, opts ...NetworkOption) *testNetwork {
	t.Helper()
	q := eventloop.NewManual(testEpoch)
	n := NewNetwork(q, opts...)
	l := newRecordingListener()
	n.SetListener(l)
	w := &frameRecorder{}
	n.Attach(w)
	return &testNetwork{Network: n, q: q, wire: w, listener: l}
}

func (tn *testNetwork) add(t *testing.T, addr string, slave bool) *DeviceContext {
	t.Helper()
	dc, err := tn.AddDevice(DeviceSpec{Address: MustParseAddress(addr), Name: "test " + addr, Slave: slave})
	if err != nil {
		t.Fatalf("AddDevice(%s) error = %v", addr, err)
	}
	return dc
}

// receive feeds p as if it arrived on the line and runs the loop.
func (tn *testNetwork) receive(p Packet) {
	tn.Feed(p.MustEncode())
	tn.q.RunPending()
}

// settle runs the update deferral and anything it schedules.
func (tn *testNetwork) settle() {
	tn.q.Advance(updateDeferral)
}

func packetOf(addr string, cmd Command, data ...byte) Packet {
	return NewPacket(MustParseAddress(addr), cmd, data...)
}

func wantProp(t *testing.T, dc *DeviceContext, name string, want any) {
	t.Helper()
	v, ok := dc.Property(name)
	if !ok {
		t.Fatalf("%s: property %s missing", dc.Address(), name)
	}
	if !v.Equal(property.New(name, want)) {
		t.Errorf("%s: %s = %v, want %v", dc.Address(), name, v.Raw(), want)
	}
}

func hasValue(values []property.Value, name string) bool {
	for _, v := range values {
		if v.Name() == name {
			return true
		}
	}
	return false
}
