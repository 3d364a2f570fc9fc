package ksx

import (
	"bytes"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/property"
)

func TestLightStatusResponse(t *testing.T) {
	tests := []struct {
		name      string
		state     byte
		wantOn    bool
		wantDim   bool
		wantLevel int
	}{
		{"off", 0x00, false, false, 0},
		{"on", 0x01, true, false, 0},
		{"dimmed", 0x73, true, true, 7},
		{"dimmable off", 0x02, false, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tn := newTestNetwork(t)
			dc := tn.add(t, "::0E01", false)

			if res := dc.ParsePacket(packetOf("::0E01", CmdStatusRsp, 0x00, tt.state)); res != ResultStateUpdated {
				t.Fatalf("ParsePacket() = %v, want %v", res, ResultStateUpdated)
			}
			wantProp(t, dc, PropOnOff, tt.wantOn)
			wantProp(t, dc, PropDimSupported, tt.wantDim)
			wantProp(t, dc, PropCurDimLevel, tt.wantLevel)
		})
	}
}

func TestLightGroupDemux(t *testing.T) {
	tn := newTestNetwork(t)
	first := tn.add(t, "::0E11", false)
	second := tn.add(t, "::0E12", false)
	if !tn.IsVirtual(MustParseAddress("::0E1F")) {
		t.Fatal("grouped lights did not get a virtual parent")
	}

	// Two lights, the second dimmable.
	tn.receive(packetOf("::0E1F", CmdCharacteristicRsp, 0x00, 0x01, 0x01, 0x02, 0x00))
	if !first.IsDetected() || !second.IsDetected() {
		t.Fatal("group characteristic response did not reach the children")
	}
	wantProp(t, first, PropDimSupported, false)
	wantProp(t, second, PropDimSupported, true)

	tn.receive(packetOf("::0E1F", CmdStatusRsp, 0x00, 0x01, 0x23))
	wantProp(t, first, PropOnOff, true)
	wantProp(t, second, PropOnOff, true)
	wantProp(t, second, PropCurDimLevel, 2)

	parent := tn.nodes[MustParseAddress("::0E1F")].ctx
	wantProp(t, parent, PropOnOff, true)
}

func TestLightCharacteristicResponse(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		from    string
		data    []byte
		wantRes ParseResult
		wantDim bool
	}{
		{"single dimmable", "::0E01", "::0E01", []byte{0x00, 0x00, 0x01}, ResultPeerDetected, true},
		{"single normal", "::0E01", "::0E01", []byte{0x00, 0x01, 0x00}, ResultPeerDetected, false},
		{"flag for index 9", "::0E19", "::0E1F", []byte{0x00, 0x08, 0x01, 0x00, 0x01}, ResultPeerDetected, true},
		{"short all dimmable", "::0E12", "::0E1F", []byte{0x00, 0x00, 0x03}, ResultPeerDetected, true},
		{"short mixed", "::0E12", "::0E1F", []byte{0x00, 0x01, 0x02}, ResultPeerDetected, false},
		{"index past total", "::0E15", "::0E1F", []byte{0x00, 0x02, 0x01, 0x00, 0x00}, ResultNone, false},
		{"too short", "::0E01", "::0E01", []byte{0x00, 0x01}, ResultMalformed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tn := newTestNetwork(t)
			dc := tn.add(t, tt.addr, false)

			if res := dc.ParsePacket(packetOf(tt.from, CmdCharacteristicRsp, tt.data...)); res != tt.wantRes {
				t.Fatalf("ParsePacket() = %v, want %v", res, tt.wantRes)
			}
			wantProp(t, dc, PropDimSupported, tt.wantDim)
		})
	}
}

func TestLightControlErrorCannotControl(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", false)

	if res := dc.ParsePacket(packetOf("::0E01", CmdSingleControlRsp, 0x02, 0x01)); res != ResultErrorReceived {
		t.Fatalf("ParsePacket() = %v, want %v", res, ResultErrorReceived)
	}
	if got := tn.listener.errors[dc.Address()]; len(got) != 1 || got[0] != ErrorCantControl {
		t.Errorf("errors = %v, want [%v]", got, ErrorCantControl)
	}
}

func TestLightGroupControlIsRepeated(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E1F", false)
	tn.settle()
	tn.wire.reset()

	dc.SetProperty(property.New(PropOnOff, true))
	tn.q.Advance(time.Millisecond)

	want := packetOf("::0E1F", CmdGroupControlReq, 0x01)
	ps := tn.wire.packets(t)
	if len(ps) != groupControlRepeat+1 {
		t.Fatalf("frames = %d, want %d", len(ps), groupControlRepeat+1)
	}
	for i, p := range ps {
		if !p.Equal(want) {
			t.Errorf("frame %d = %v, want %v", i, p, want)
		}
	}
}

func TestLightBatchOff(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", false)
	tn.settle()
	tn.wire.reset()

	dc.SetProperty(property.New(PropBatchLightOff, true))
	tn.q.Advance(time.Millisecond)

	if got, want := tn.wire.last(t), packetOf("::0E01", CmdBatchLightOffReq, 0x00); !got.Equal(want) {
		t.Errorf("batch frame = %v, want %v", got, want)
	}
	if got := len(tn.wire.frames); got != groupControlRepeat+1 {
		t.Errorf("frames = %d, want %d", got, groupControlRepeat+1)
	}
}

func TestLightSlaveAnswersStatus(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", true)
	dc.SetProperty(property.New(PropOnOff, true))

	tn.receive(packetOf("::0E01", CmdStatusReq))

	want := []byte{0xF7, 0x0E, 0x01, 0x81, 0x02, 0x00, 0x01, 0x7A, 0x04}
	if len(tn.wire.frames) != 1 || !bytes.Equal(tn.wire.frames[0], want) {
		t.Errorf("status response = % X, want % X", tn.wire.frames, want)
	}
}

func TestLightSlaveAnswersForGroup(t *testing.T) {
	tn := newTestNetwork(t)
	first := tn.add(t, "::0E11", true)
	tn.add(t, "::0E12", true)
	first.SetProperty(
		property.New(PropDimSupported, true),
		property.New(PropCurDimLevel, 3),
		property.New(PropOnOff, true),
	)

	tn.receive(packetOf("::0E1F", CmdCharacteristicReq))
	if got, want := tn.wire.last(t), packetOf("::0E1F", CmdCharacteristicRsp, 0x00, 0x01, 0x01, 0x01, 0x00); !got.Equal(want) {
		t.Errorf("characteristic response = %v, want %v", got, want)
	}

	tn.receive(packetOf("::0E1F", CmdStatusReq))
	if got, want := tn.wire.last(t), packetOf("::0E1F", CmdStatusRsp, 0x00, 0x33, 0x00); !got.Equal(want) {
		t.Errorf("status response = %v, want %v", got, want)
	}
}

func TestLightSlaveSingleControl(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", true)

	tn.receive(packetOf("::0E01", CmdSingleControlReq, 0x71))

	if got, want := tn.wire.last(t), packetOf("::0E01", CmdSingleControlRsp, 0x00, 0x71); !got.Equal(want) {
		t.Errorf("control response = %v, want %v", got, want)
	}
	wantProp(t, dc, PropOnOff, true)
	wantProp(t, dc, PropCurDimLevel, 7)

	// Switching off keeps the last level.
	tn.receive(packetOf("::0E01", CmdSingleControlReq, 0x50))
	wantProp(t, dc, PropOnOff, false)
	wantProp(t, dc, PropCurDimLevel, 7)
}

func TestLightSlaveGroupControl(t *testing.T) {
	tn := newTestNetwork(t)
	first := tn.add(t, "::0E11", true)
	second := tn.add(t, "::0E12", true)

	tn.receive(packetOf("::0E1F", CmdGroupControlReq, 0x01))
	wantProp(t, first, PropOnOff, true)
	wantProp(t, second, PropOnOff, true)
	if !hasValue(tn.listener.lastChange(second.Address()), PropOnOff) {
		t.Error("child change was not reported")
	}
}

func TestLightSlaveOnOffPropagates(t *testing.T) {
	tn := newTestNetwork(t)
	parent := tn.add(t, "::0E1F", true)
	first := tn.add(t, "::0E11", true)
	second := tn.add(t, "::0E12", true)

	parent.SetProperty(property.New(PropOnOff, true))
	wantProp(t, parent, PropOnOff, true)
	wantProp(t, first, PropOnOff, true)
	wantProp(t, second, PropOnOff, true)
}
