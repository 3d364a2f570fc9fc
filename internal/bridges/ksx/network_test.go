package ksx

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/discovery"
	"github.com/nerrad567/gray-logic-homenet/internal/poller"
)

func TestVirtualParentLifecycle(t *testing.T) {
	tn := newTestNetwork(t)
	parentAddr := MustParseAddress("::0E1F")

	first := tn.add(t, "::0E11", false)
	second := tn.add(t, "::0E12", false)

	if !tn.IsVirtual(parentAddr) {
		t.Fatal("no virtual parent for grouped devices")
	}
	if _, ok := tn.Device(parentAddr); ok {
		t.Error("Device() returned a virtual parent")
	}
	parent, ok := tn.Parent(first)
	if !ok || parent.Address() != parentAddr {
		t.Fatalf("Parent() = %v, %v", parent, ok)
	}
	wantProp(t, parent, PropName, "Virtual ::0E1F")
	if got := len(parent.Children()); got != 2 {
		t.Errorf("virtual parent children = %d, want 2", got)
	}
	if got := tn.poller.Len(); got != 2 {
		t.Errorf("polled devices = %d, want 2 (virtual parents are not polled)", got)
	}

	if err := tn.RemoveDevice(first.Address()); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if !tn.IsVirtual(parentAddr) {
		t.Fatal("virtual parent removed while a child remains")
	}
	if err := tn.RemoveDevice(second.Address()); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if tn.IsVirtual(parentAddr) {
		t.Error("virtual parent outlived its last child")
	}
}

func TestRealParentReplacesVirtual(t *testing.T) {
	tn := newTestNetwork(t)
	child := tn.add(t, "::0E11", false)
	parent := tn.add(t, "::0E1F", false)
	later := tn.add(t, "::0E12", false)

	if tn.IsVirtual(parent.Address()) {
		t.Fatal("real parent still marked virtual")
	}
	got := parent.Children()
	if len(got) != 2 || got[0] != child || got[1] != later {
		t.Errorf("children = %v, want [::0E11 ::0E12]", got)
	}

	if err := tn.RemoveDevice(parent.Address()); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if _, ok := tn.Parent(child); ok {
		t.Error("child still has a parent after the parent left")
	}
}

func TestFullDeviceAdoptsExistingChildren(t *testing.T) {
	tn := newTestNetwork(t)
	tn.add(t, "::0E01", false)
	tn.add(t, "::0E03", false)
	tn.add(t, "::0E21", false)

	parent, err := tn.AddDevice(DeviceSpec{Address: MustParseAddress("::0E0F")})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if got := len(parent.Children()); got != 2 {
		t.Errorf("children = %d, want 2 (other groups excluded)", got)
	}
}

func TestAddRemoveErrors(t *testing.T) {
	tn := newTestNetwork(t)
	tn.add(t, "::0E11", false)

	if _, err := tn.AddDevice(DeviceSpec{Address: MustParseAddress("::0E11")}); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate AddDevice() error = %v, want ErrDeviceExists", err)
	}
	if err := tn.RemoveDevice(MustParseAddress("::0E05")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("RemoveDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
	if err := tn.RemoveDevice(MustParseAddress("::0E1F")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("RemoveDevice(virtual) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDevicesOrdered(t *testing.T) {
	tn := newTestNetwork(t)
	for _, a := range []string{"::1201", "::0E12", "::0E01"} {
		tn.add(t, a, false)
	}

	var got []string
	for _, dc := range tn.Devices() {
		got = append(got, dc.Address().String())
	}
	want := []string{"::0E01", "::0E12", "::1201"}
	if len(got) != len(want) {
		t.Fatalf("Devices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Devices()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStreamResyncAfterCorruptFrame(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", false)

	corrupt := packetOf("::0E01", CmdStatusRsp, 0x00, 0x00).MustEncode()
	corrupt[len(corrupt)-1] ^= 0xFF
	good := packetOf("::0E01", CmdStatusRsp, 0x00, 0x01).MustEncode()

	chunk := append([]byte{0x13, 0x37}, corrupt...)
	tn.Feed(append(chunk, good...))

	wantProp(t, dc, PropOnOff, true)
	st := tn.Stats()
	if st.FramesRx != 1 {
		t.Errorf("FramesRx = %d, want 1", st.FramesRx)
	}
	if st.Stream.Skipped == 0 {
		t.Error("no bytes were skipped while resynchronising")
	}
}

func TestStreamSplitFrame(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", false)
	frame := packetOf("::0E01", CmdStatusRsp, 0x00, 0x01).MustEncode()

	tn.Feed(frame[:4])
	tn.q.Advance(100 * time.Millisecond)
	tn.Feed(frame[4:])

	wantProp(t, dc, PropOnOff, true)
	if got := tn.Stats().Stream.Cleared; got != 0 {
		t.Errorf("Cleared = %d, want 0", got)
	}
}

func TestStreamStalePartialIsDropped(t *testing.T) {
	tn := newTestNetwork(t)
	frame := packetOf("::0E01", CmdStatusRsp, 0x00, 0x01).MustEncode()

	tn.Feed(frame[:4])
	tn.q.Advance(time.Second)
	if got := tn.Stats().Stream.Cleared; got != 1 {
		t.Errorf("Cleared = %d, want 1", got)
	}
	if got := tn.reasm.Buffered(); got != 0 {
		t.Errorf("Buffered() = %d, want 0", got)
	}
}

func TestRepeatedResponseSuppressed(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", false)
	tn.settle()
	tn.receive(packetOf("::0E01", CmdCharacteristicRsp, 0x00, 0x01, 0x00))
	dc.SetPollPhase(poller.PhaseWorking, poller.PhaseWorking.Interval())
	tn.settle()

	rsp := packetOf("::0E01", CmdStatusRsp, 0x00, 0x01)
	tn.receive(rsp)
	tn.receive(rsp)

	if got := tn.Stats().Suppressed; got != 1 {
		t.Errorf("Suppressed = %d, want 1", got)
	}
	wantProp(t, dc, PropOnOff, true)
}

func TestWritePostsToLoop(t *testing.T) {
	tn := newTestNetwork(t)
	dc := tn.add(t, "::0E01", false)

	frame := packetOf("::0E01", CmdStatusRsp, 0x00, 0x01).MustEncode()
	if n, err := tn.Write(frame); err != nil || n != len(frame) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	wantProp(t, dc, PropOnOff, false)

	tn.q.RunPending()
	wantProp(t, dc, PropOnOff, true)
}

func TestFrameHook(t *testing.T) {
	tn := newTestNetwork(t)
	var rx, tx int
	tn.SetFrameHook(func(_ Packet, isTx bool) {
		if isTx {
			tx++
		} else {
			rx++
		}
	})
	tn.add(t, "::0E01", false)
	tn.settle()
	tn.receive(packetOf("::0E01", CmdCharacteristicRsp, 0x00, 0x01, 0x00))

	if rx != 1 || tx != 1 {
		t.Errorf("hook saw rx=%d tx=%d, want 1 and 1", rx, tx)
	}
}

func TestDiscovery(t *testing.T) {
	tn := newTestNetwork(t)

	var started, finished bool
	var found []Address
	tn.SetDiscoveryCallbacks(discovery.Callbacks[*DeviceContext]{
		Started:    func() { started = true },
		Discovered: func(dc *DeviceContext) { found = append(found, dc.Address()) },
		Finished:   func() { finished = true },
	})

	specs := []DeviceSpec{
		{Address: MustParseAddress("::0E01"), Name: "hall"},
		{Address: MustParseAddress("::1201"), Name: "kitchen valve"},
	}
	if err := tn.StartDiscovery(2*time.Second, specs); err != nil {
		t.Fatalf("StartDiscovery() error = %v", err)
	}
	tn.q.Advance(updateDeferral)
	if !started {
		t.Error("started event missing")
	}
	if got, want := tn.wire.last(t), packetOf("::0E01", CmdCharacteristicReq); !got.Equal(want) {
		t.Fatalf("ping = %v, want %v", got, want)
	}

	tn.receive(packetOf("::0E01", CmdCharacteristicRsp, 0x00, 0x01, 0x00))
	if len(found) != 1 || found[0] != specs[0].Address {
		t.Errorf("found = %v, want [::0E01]", found)
	}
	if _, ok := tn.Device(specs[0].Address); ok {
		t.Error("discovery added the device by itself")
	}

	tn.q.Advance(5 * time.Second)
	if !finished || tn.Discovering() {
		t.Error("scan did not finish after the deadline")
	}
}

func TestDiscoveryNeedsStream(t *testing.T) {
	tn := newTestNetwork(t)
	tn.Detach()

	err := tn.StartDiscovery(time.Second, []DeviceSpec{{Address: MustParseAddress("::0E01")}})
	if !errors.Is(err, ErrNotAttached) {
		t.Errorf("StartDiscovery() error = %v, want ErrNotAttached", err)
	}
}

func TestPingOncePerGroup(t *testing.T) {
	tests := []struct {
		name    string
		prev    string
		hasPrev bool
		next    string
		want    bool
	}{
		{"first ping", "::0000", false, "::0E11", true},
		{"same group", "::0E11", true, "::0E12", false},
		{"other group", "::0E11", true, "::0E21", true},
		{"other kind", "::0E11", true, "::1211", true},
		{"ungrouped", "::0E01", true, "::0E02", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pingOncePerGroup(MustParseAddress(tt.prev), tt.hasPrev, MustParseAddress(tt.next))
			if got != tt.want {
				t.Errorf("pingOncePerGroup() = %v, want %v", got, tt.want)
			}
		})
	}
}
