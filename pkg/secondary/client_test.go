package secondary

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/cpctransport"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestInitializeAgainstMock(t *testing.T) {
	m := cpctransport.NewMock("1234", 0x8877665544332211, version.Version{Major: 1, Minor: 2, Patch: 3})
	client := NewClient(m, testLogger())

	chip, err := Initialize(client, 1)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if chip.UniqueID != 0x8877665544332211 {
		t.Errorf("uniqueID = %#x, want 0x8877665544332211", chip.UniqueID)
	}
	if len(chip.PinNames) != cpctransport.MockGpioCount {
		t.Errorf("pin count = %d, want %d", len(chip.PinNames), cpctransport.MockGpioCount)
	}
	if chip.Label == "" {
		t.Error("expected non-empty chip label")
	}

	for pin := uint8(0); pin < uint8(len(chip.PinNames)); pin++ {
		_, _, direction := m.PinState(pin)
		if direction != wire.DirectionDisabled {
			t.Errorf("pin %d direction = %v, want Disabled after init", pin, direction)
		}
	}
}

func TestInitializeRejectsMajorVersionMismatch(t *testing.T) {
	m := cpctransport.NewMock("1", 1, version.Version{Major: 2, Minor: 0, Patch: 0})
	client := NewClient(m, testLogger())

	_, err := Initialize(client, 1)
	var unrecoverable *UnrecoverableError
	if !errors.As(err, &unrecoverable) {
		t.Fatalf("err = %v, want *UnrecoverableError", err)
	}
}

func TestSetGpioValueNotSupportedMapsToStatusNotOk(t *testing.T) {
	m := newFixedStatusMock(wire.StatusNotSupported)
	client := NewClient(m, testLogger())

	err := client.SetGpioValue(3, wire.PinHigh)
	var recoverable *RecoverableError
	if !errors.As(err, &recoverable) {
		t.Fatalf("err = %v, want *RecoverableError", err)
	}
	if recoverable.Kind != StatusNotOk || recoverable.Status != wire.StatusNotSupported {
		t.Errorf("got %+v", recoverable)
	}
}

func TestSequenceIncrementsAcrossRequests(t *testing.T) {
	m := cpctransport.NewMock("1", 1, version.Version{Major: 1})
	client := NewClient(m, testLogger())

	if _, err := client.GetUniqueId(); err != nil {
		t.Fatalf("GetUniqueId: %v", err)
	}
	if client.seq != 1 {
		t.Fatalf("seq after first request = %d, want 1", client.seq)
	}
	if _, err := client.GetChipLabel(); err != nil {
		t.Fatalf("GetChipLabel: %v", err)
	}
	if client.seq != 2 {
		t.Fatalf("seq after second request = %d, want 2", client.seq)
	}
}

func TestSequenceWrapsAt256(t *testing.T) {
	m := cpctransport.NewMock("1", 1, version.Version{Major: 1})
	client := NewClient(m, testLogger())
	client.seq = 255

	if _, err := client.GetUniqueId(); err != nil {
		t.Fatalf("request 256: %v", err)
	}
	if client.seq != 0 {
		t.Fatalf("seq = %d, want 0 (wrapped)", client.seq)
	}
	if _, err := client.GetUniqueId(); err != nil {
		t.Fatalf("request 257: %v", err)
	}
	if client.seq != 1 {
		t.Fatalf("seq = %d, want 1", client.seq)
	}
}

func uniqueIdIsFrame(seq uint8, uid uint64) []byte {
	payload := make([]byte, 9)
	payload[0] = seq
	for i := 0; i < 8; i++ {
		payload[1+i] = byte(uid >> (8 * i))
	}
	return append([]byte{byte(wire.CmdUniqueIdIs), byte(len(payload))}, payload...)
}

func TestMismatchedSequenceIsDiscardedThenMatchingAccepted(t *testing.T) {
	tr := newScriptedTransport()
	client := NewClient(tr, testLogger())

	// The operation will use seq=1. Queue a stale reply for seq=9 first,
	// then the real reply for seq=1.
	tr.queue(uniqueIdIsFrame(9, 0x0102030405060708))
	tr.queue(uniqueIdIsFrame(1, 0x1122334455667788))

	uid, err := client.GetUniqueId()
	if err != nil {
		t.Fatalf("GetUniqueId: %v", err)
	}
	if uid != 0x1122334455667788 {
		t.Fatalf("uid = %#x, want 0x1122334455667788 (the matching-seq reply)", uid)
	}
}

func TestTimeoutWhenOnlyMismatchedRepliesArrive(t *testing.T) {
	tr := newScriptedTransport()
	client := NewClient(tr, testLogger())
	tr.queue(uniqueIdIsFrame(9, 0x0102030405060708))

	start := time.Now()
	_, err := client.GetUniqueId()
	elapsed := time.Since(start)

	var recoverable *RecoverableError
	if !errors.As(err, &recoverable) || recoverable.Kind != Timeout {
		t.Fatalf("err = %v, want Recoverable.Timeout", err)
	}
	if elapsed < requestTimeout {
		t.Errorf("returned after %s, expected to honor the %s budget", elapsed, requestTimeout)
	}
}

// fixedStatusMock always answers any sequenced request with a StatusIs
// reply carrying a fixed status, for exercising the client's StatusIs →
// StatusNotOk mapping without a full GpioChip round trip.
type fixedStatusMock struct {
	status wire.Status
	out    chan []byte
}

func newFixedStatusMock(status wire.Status) *fixedStatusMock {
	return &fixedStatusMock{status: status, out: make(chan []byte, 1)}
}

func (f *fixedStatusMock) Write(p []byte) error {
	frames, err := wire.Split(p)
	if err != nil || len(frames) == 0 {
		return err
	}
	f.out <- []byte{byte(wire.CmdStatusIs), 2, frames[0].Payload[0], byte(f.status)}
	return nil
}

func (f *fixedStatusMock) Read() ([]byte, error) {
	return <-f.out, nil
}

func (f *fixedStatusMock) Close() error { return nil }

// scriptedTransport hands out a pre-queued script of raw frame buffers, one
// per Read, independent of what is written (Write is a no-op), mirroring the §8 "mismatched seq then matching seq"
// scenario without needing a stateful mock secondary.
type scriptedTransport struct {
	out chan []byte
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{out: make(chan []byte, 8)}
}

func (s *scriptedTransport) queue(buf []byte) {
	s.out <- buf
}

func (s *scriptedTransport) Write(p []byte) error { return nil }

func (s *scriptedTransport) Read() ([]byte, error) {
	return <-s.out, nil
}

func (s *scriptedTransport) Close() error { return nil }
