//go:build linux

package driver

import (
	"errors"
	"testing"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/genl"
)

func testHandle(uniqueID uint64) *Handle {
	return &Handle{uniqueID: uniqueID}
}

func TestParseBroadcastExit(t *testing.T) {
	h := testHandle(42)
	msg := genl.Message{
		Header: genl.Header{Cmd: uint8(genl.CmdExit)},
		Attrs: []genl.Attr{
			genl.PutU64(genl.AttrUniqueId, 0),
			genl.PutString(genl.AttrMessage, "driver unloading"),
		},
	}
	req, err := h.Parse(msg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	exit, ok := req.(Exit)
	if !ok {
		t.Fatalf("got %T, want Exit", req)
	}
	if exit.Message != "driver unloading" {
		t.Fatalf("message = %q", exit.Message)
	}
}

func TestParseBroadcastNonExitIsUnknown(t *testing.T) {
	h := testHandle(42)
	msg := genl.Message{
		Header: genl.Header{Cmd: uint8(genl.CmdGetGpioValue)},
		Attrs: []genl.Attr{
			genl.PutU64(genl.AttrUniqueId, 0),
			genl.PutU32(genl.AttrGpioPin, 3),
		},
	}
	_, err := h.Parse(msg)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestParseForeignUniqueIdIsDiscarded(t *testing.T) {
	h := testHandle(42)
	msg := genl.Message{
		Header: genl.Header{Cmd: uint8(genl.CmdGetGpioValue)},
		Attrs: []genl.Attr{
			genl.PutU64(genl.AttrUniqueId, 99),
			genl.PutU32(genl.AttrGpioPin, 3),
		},
	}
	_, err := h.Parse(msg)
	if !errors.Is(err, Discard) {
		t.Fatalf("err = %v, want Discard", err)
	}
}

func TestParseSetGpioValue(t *testing.T) {
	h := testHandle(42)
	msg := genl.Message{
		Header: genl.Header{Cmd: uint8(genl.CmdSetGpioValue)},
		Attrs: []genl.Attr{
			genl.PutU64(genl.AttrUniqueId, 42),
			genl.PutU32(genl.AttrGpioPin, 5),
			genl.PutU32(genl.AttrGpioValue, uint32(genl.PinHigh)),
		},
	}
	req, err := h.Parse(msg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sv, ok := req.(SetGpioValue)
	if !ok {
		t.Fatalf("got %T, want SetGpioValue", req)
	}
	if sv.Pin != 5 || sv.Value != genl.PinHigh {
		t.Fatalf("got %+v", sv)
	}
}

func TestParseUnrecognizedUnicastCommandIsUnknown(t *testing.T) {
	h := testHandle(42)
	msg := genl.Message{
		Header: genl.Header{Cmd: uint8(genl.CmdDeinit)},
		Attrs: []genl.Attr{
			genl.PutU64(genl.AttrUniqueId, 42),
			genl.PutU32(genl.AttrGpioPin, 0),
		},
	}
	_, err := h.Parse(msg)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}
