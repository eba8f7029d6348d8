package cpctransport

import (
	"testing"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

func TestMockGetVersion(t *testing.T) {
	m := NewMock("1234", 1234, version.Version{Major: 1, Minor: 0, Patch: 0})
	if err := m.Write(wire.SerializeGetVersion()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	frames, err := wire.Split(reply)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	v, err := wire.ParseVersionIs(frames[0].Payload)
	if err != nil {
		t.Fatalf("ParseVersionIs: %v", err)
	}
	if v.Version.Major != 1 {
		t.Errorf("major = %d, want 1", v.Version.Major)
	}
}

func TestMockSetGpioDirectionDisabledResetsValue(t *testing.T) {
	m := NewMock("1", 1, version.Version{Major: 1})

	if err := m.Write(wire.SerializeSetGpioValue(1, 3, wire.PinHigh)); err != nil {
		t.Fatalf("Write SetGpioValue: %v", err)
	}
	if _, err := m.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	value, _, _ := m.PinState(3)
	if value != wire.PinHigh {
		t.Fatalf("pin 3 value = %v, want PinHigh", value)
	}

	if err := m.Write(wire.SerializeSetGpioDirection(2, 3, wire.DirectionDisabled)); err != nil {
		t.Fatalf("Write SetGpioDirection: %v", err)
	}
	if _, err := m.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}

	value, _, direction := m.PinState(3)
	if direction != wire.DirectionDisabled {
		t.Errorf("direction = %v, want Disabled", direction)
	}
	if value != wire.PinLow {
		t.Errorf("value = %v, want Low after disabling", value)
	}
}

func TestMockGetGpioNameInvalidPin(t *testing.T) {
	m := NewMock("1", 1, version.Version{Major: 1})
	if err := m.Write(wire.SerializeGetGpioName(5, 200)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	frames, err := wire.Split(reply)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if wire.SecondaryCommand(frames[0].Cmd) != wire.CmdStatusIs {
		t.Fatalf("cmd = %d, want CmdStatusIs", frames[0].Cmd)
	}
	status, err := wire.ParseStatusIs(frames[0].Payload)
	if err != nil {
		t.Fatalf("ParseStatusIs: %v", err)
	}
	if status.Status != wire.StatusInvalidPin {
		t.Errorf("status = %v, want StatusInvalidPin", status.Status)
	}
}

func TestMockUnsupportedCommand(t *testing.T) {
	m := NewMock("1", 1, version.Version{Major: 1})
	if err := m.Write([]byte{0x7F, 1, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reply, err := m.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	frames, err := wire.Split(reply)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	got, err := wire.ParseUnsupportedCmdIs(frames[0].Payload)
	if err != nil {
		t.Fatalf("ParseUnsupportedCmdIs: %v", err)
	}
	if got.OrigCmd != 0x7F {
		t.Errorf("origCmd = %#x, want 0x7F", got.OrigCmd)
	}
}
