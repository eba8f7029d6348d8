package cpctransport

import (
	"fmt"
	"sync"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

// MockGpioCount is the pin count the in-process secondary exposes, matching
// original_source/bridge/src/gpio/interface/mock.rs.
const MockGpioCount = 16

type mockPin struct {
	name      string
	value     wire.PinValue
	config    wire.PinConfig
	direction wire.PinDirection
}

// Mock is an in-process stand-in secondary: it satisfies Capability without
// touching a real CPC endpoint, responding synchronously to every request
// exactly as the real secondary would, including the disabled-pin invariant
// (setting a pin's direction to Disabled resets its observable value to
// Low). Grounded on the reference mock.rs and adapted into Go's
// request/response shape since Go has no equivalent of the Rust mpsc
// channel pair.
type Mock struct {
	mu       sync.Mutex
	cond     *sync.Cond
	version  version.Version
	uniqueID uint64
	label    string
	pins     []mockPin
	pending  [][]byte
	closed   bool
}

// NewMock builds a mock secondary, named the way the reference
// implementation names mock instances: the chip label and GPIO names are
// templated from uniqueID. instanceName does not affect the mock.
func NewMock(instanceName string, uniqueID uint64, v version.Version) *Mock {
	pins := make([]mockPin, MockGpioCount)
	for i := range pins {
		pins[i] = mockPin{
			name:      fmt.Sprintf("mock-%d-gpio-%d", uniqueID, i),
			value:     wire.PinLow,
			config:    wire.ConfigBiasDisable,
			direction: wire.DirectionDisabled,
		}
	}
	m := &Mock{
		version:  v,
		uniqueID: uniqueID,
		label:    fmt.Sprintf("mock-%d-label", uniqueID),
		pins:     pins,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Write feeds a southbound request frame to the mock, queuing its reply for
// the next Read. Write never blocks: the mock computes and buffers the
// reply synchronously, mirroring the single-transmit-window contract the
// real secondary enforces.
func (m *Mock) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	frames, err := wire.Split(p)
	if err != nil {
		return err
	}
	for _, f := range frames {
		reply, err := m.handle(f)
		if err != nil {
			return err
		}
		m.pending = append(m.pending, reply)
	}
	m.cond.Broadcast()
	return nil
}

// Read blocks until a reply is buffered or Close is called, mirroring the
// real endpoint's blocking recv semantics.
func (m *Mock) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.pending) == 0 {
		return nil, ErrClosed
	}
	reply := m.pending[0]
	m.pending = m.pending[1:]
	return reply, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

// PinState reports the current state of one pin for test assertions.
func (m *Mock) PinState(pin uint8) (wire.PinValue, wire.PinConfig, wire.PinDirection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pins[pin]
	return p.value, p.config, p.direction
}

func (m *Mock) handle(f wire.RawFrame) ([]byte, error) {
	switch wire.HostCommand(f.Cmd) {
	case wire.CmdGetVersion:
		return append([]byte{byte(wire.CmdVersionIs), 3}, m.version.Major, m.version.Minor, m.version.Patch), nil

	case wire.CmdGetUniqueId:
		seq := f.Payload[0]
		uid := make([]byte, 8)
		for i := 0; i < 8; i++ {
			uid[i] = byte(m.uniqueID >> (8 * i))
		}
		return append([]byte{byte(wire.CmdUniqueIdIs), byte(1 + len(uid)), seq}, uid...), nil

	case wire.CmdGetChipLabel:
		seq := f.Payload[0]
		label := append([]byte(m.label), 0)
		return append([]byte{byte(wire.CmdChipLabelIs), byte(1 + len(label)), seq}, label...), nil

	case wire.CmdGetGpioCount:
		seq := f.Payload[0]
		return []byte{byte(wire.CmdGpioCountIs), 2, seq, byte(len(m.pins))}, nil

	case wire.CmdGetGpioName:
		seq, pin := f.Payload[0], f.Payload[1]
		if int(pin) >= len(m.pins) {
			return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusInvalidPin)}, nil
		}
		name := append([]byte(m.pins[pin].name), 0)
		return append([]byte{byte(wire.CmdGpioNameIs), byte(1 + len(name)), seq}, name...), nil

	case wire.CmdGetGpioValue:
		seq, pin := f.Payload[0], f.Payload[1]
		if int(pin) >= len(m.pins) {
			return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusInvalidPin)}, nil
		}
		return []byte{byte(wire.CmdGpioValueIs), 2, seq, byte(m.pins[pin].value)}, nil

	case wire.CmdSetGpioValue:
		seq, pin, v := f.Payload[0], f.Payload[1], wire.ParsePinValue(f.Payload[2])
		if int(pin) >= len(m.pins) {
			return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusInvalidPin)}, nil
		}
		m.pins[pin].value = v
		return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusOk)}, nil

	case wire.CmdSetGpioConfig:
		seq, pin, c := f.Payload[0], f.Payload[1], wire.ParsePinConfig(f.Payload[2])
		if int(pin) >= len(m.pins) {
			return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusInvalidPin)}, nil
		}
		m.pins[pin].config = c
		return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusOk)}, nil

	case wire.CmdSetGpioDirection:
		seq, pin, d := f.Payload[0], f.Payload[1], wire.ParsePinDirection(f.Payload[2])
		if int(pin) >= len(m.pins) {
			return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusInvalidPin)}, nil
		}
		if d == wire.DirectionDisabled {
			m.pins[pin].value = wire.PinLow
		}
		m.pins[pin].direction = d
		return []byte{byte(wire.CmdStatusIs), 2, seq, byte(wire.StatusOk)}, nil

	default:
		seq := byte(0)
		if len(f.Payload) > 0 {
			seq = f.Payload[0]
		}
		return []byte{byte(wire.CmdUnsupportedCmdIs), 2, seq, f.Cmd}, nil
	}
}
