//go:build linux

package genl

import "testing"

func TestAttrRoundTrip(t *testing.T) {
	attrs := []Attr{
		PutU32(AttrGpioPin, 3),
		PutString(AttrChipLabel, "gpio-chip"),
		PutU64(AttrUniqueId, 0x8877665544332211),
		PutU8(AttrVersionMajor, 1),
	}
	buf := PutAttrs(attrs)

	got, err := ParseAttrs(buf)
	if err != nil {
		t.Fatalf("ParseAttrs: %v", err)
	}

	pin, err := AttrU32(got, AttrGpioPin)
	if err != nil || pin != 3 {
		t.Fatalf("pin = %d, err = %v", pin, err)
	}
	label, err := AttrString(got, AttrChipLabel)
	if err != nil || label != "gpio-chip" {
		t.Fatalf("label = %q, err = %v", label, err)
	}
	uid, err := AttrU64(got, AttrUniqueId)
	if err != nil || uid != 0x8877665544332211 {
		t.Fatalf("uid = %#x, err = %v", uid, err)
	}
	major, err := AttrU8(got, AttrVersionMajor)
	if err != nil || major != 1 {
		t.Fatalf("major = %d, err = %v", major, err)
	}
}

func TestAttrStringsRoundTrip(t *testing.T) {
	names := []string{"gpio0", "gpio1", "gpio2"}
	attrs := []Attr{PutStrings(AttrGpioNames, names)}
	buf := PutAttrs(attrs)

	got, err := ParseAttrs(buf)
	if err != nil {
		t.Fatalf("ParseAttrs: %v", err)
	}
	decoded, err := AttrStrings(got, AttrGpioNames)
	if err != nil {
		t.Fatalf("AttrStrings: %v", err)
	}
	if len(decoded) != len(names) {
		t.Fatalf("got %d names, want %d", len(decoded), len(names))
	}
	for i, n := range names {
		if decoded[i] != n {
			t.Errorf("name %d = %q, want %q", i, decoded[i], n)
		}
	}
}

func TestParseAttrsRejectsTruncation(t *testing.T) {
	_, err := ParseAttrs([]byte{0x01})
	if err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Type: 42, Flags: FlagRequest, Cmd: uint8(CmdInit), Version: APIVersion}
	attrs := []Attr{PutU64(AttrUniqueId, 99), PutU32(AttrGpioCount, 4)}

	buf := Encode(h, attrs)
	msg, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Header.Type != 42 || msg.Header.Cmd != uint8(CmdInit) {
		t.Fatalf("header mismatch: %+v", msg.Header)
	}
	uid, err := AttrU64(msg.Attrs, AttrUniqueId)
	if err != nil || uid != 99 {
		t.Fatalf("uid = %d, err = %v", uid, err)
	}
}
