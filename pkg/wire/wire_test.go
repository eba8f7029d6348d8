package wire

import (
	"errors"
	"testing"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/version"
)

func TestSplitConcatenatedFrames(t *testing.T) {
	a := SerializeGetVersion()
	b := SerializeGetUniqueId(7)
	c := SerializeSetGpioValue(8, 3, PinHigh)

	buf := append(append(append([]byte{}, a...), b...), c...)

	frames, err := Split(buf)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].Cmd != byte(CmdGetVersion) {
		t.Errorf("frame 0 cmd = %d, want %d", frames[0].Cmd, CmdGetVersion)
	}
	if frames[1].Cmd != byte(CmdGetUniqueId) || frames[1].Payload[0] != 7 {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if frames[2].Cmd != byte(CmdSetGpioValue) || frames[2].Payload[0] != 8 || frames[2].Payload[1] != 3 || frames[2].Payload[2] != byte(PinHigh) {
		t.Errorf("frame 2 = %+v", frames[2])
	}
}

func TestSplitRejectsTruncatedHeader(t *testing.T) {
	_, err := Split([]byte{0x01})
	if !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("err = %v, want ErrTruncatedHeader", err)
	}
}

func TestSplitRejectsTruncatedPayload(t *testing.T) {
	_, err := Split([]byte{0x01, 0x05, 0xAA})
	if !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("err = %v, want ErrTruncatedPayload", err)
	}
}

func TestSequencedRequestsCarrySeqImmediatelyAfterHeader(t *testing.T) {
	buf := SerializeGetGpioName(42, 3)
	frames, err := Split(buf)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Payload[0] != 42 {
		t.Errorf("seq = %d, want 42", frames[0].Payload[0])
	}
	if frames[0].Payload[1] != 3 {
		t.Errorf("pin = %d, want 3", frames[0].Payload[1])
	}
}

func TestVersionIsRoundTrip(t *testing.T) {
	want := version.Version{Major: 1, Minor: 2, Patch: 3}
	payload := []byte{want.Major, want.Minor, want.Patch}
	got, err := ParseVersionIs(payload)
	if err != nil {
		t.Fatalf("ParseVersionIs: %v", err)
	}
	if got.Version != want {
		t.Errorf("got %+v, want %+v", got.Version, want)
	}
}

func TestUniqueIdIsRoundTrip(t *testing.T) {
	// Matches §8 scenario 2: mock reply [0x82,0x09,0x01, 0x11,0x22,...,0x88].
	payload := []byte{0x01, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	got, err := ParseUniqueIdIs(payload)
	if err != nil {
		t.Fatalf("ParseUniqueIdIs: %v", err)
	}
	if got.Seq != 0x01 {
		t.Errorf("seq = %d, want 1", got.Seq)
	}
	if got.UniqueId != 0x8877665544332211 {
		t.Errorf("uniqueId = %#x, want 0x8877665544332211", got.UniqueId)
	}
}

func TestChipLabelIsRequiresNulTerminator(t *testing.T) {
	// seq byte + "abc" with no trailing NUL.
	_, err := ParseChipLabelIs([]byte{0x00, 'a', 'b', 'c'})
	if !errors.Is(err, ErrMissingNul) {
		t.Fatalf("err = %v, want ErrMissingNul", err)
	}
}

func TestChipLabelIsRoundTrip(t *testing.T) {
	got, err := ParseChipLabelIs([]byte{0x00, 'g', 'p', 'i', 'o', 0x00})
	if err != nil {
		t.Fatalf("ParseChipLabelIs: %v", err)
	}
	if got.Label != "gpio" {
		t.Errorf("label = %q, want %q", got.Label, "gpio")
	}
}

func TestParseStatusUnknownFallback(t *testing.T) {
	if got := ParseStatus(0x42); got != StatusUnknown {
		t.Errorf("ParseStatus(0x42) = %v, want StatusUnknown", got)
	}
	if got := ParseStatus(byte(StatusInvalidPin)); got != StatusInvalidPin {
		t.Errorf("ParseStatus(InvalidPin) = %v, want StatusInvalidPin", got)
	}
}

func TestStatusIsRoundTrip(t *testing.T) {
	got, err := ParseStatusIs([]byte{9, byte(StatusNotSupported)})
	if err != nil {
		t.Fatalf("ParseStatusIs: %v", err)
	}
	if got.Seq != 9 || got.Status != StatusNotSupported {
		t.Errorf("got %+v", got)
	}
}

func TestGpioValueIsRoundTrip(t *testing.T) {
	got, err := ParseGpioValueIs([]byte{5, byte(PinHigh)})
	if err != nil {
		t.Fatalf("ParseGpioValueIs: %v", err)
	}
	if got.Seq != 5 || got.Value != PinHigh {
		t.Errorf("got %+v", got)
	}
}

func TestUnsupportedCmdIsRoundTrip(t *testing.T) {
	got, err := ParseUnsupportedCmdIs([]byte{3, byte(CmdGetGpioCount)})
	if err != nil {
		t.Fatalf("ParseUnsupportedCmdIs: %v", err)
	}
	if got.Seq != 3 || got.OrigCmd != byte(CmdGetGpioCount) {
		t.Errorf("got %+v", got)
	}
}
