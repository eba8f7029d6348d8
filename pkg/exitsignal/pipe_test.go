package exitsignal

import (
	"errors"
	"testing"
	"time"
)

func TestPipeNotifyOnce(t *testing.T) {
	p := New()
	if p.Fired() {
		t.Fatal("new pipe should not be fired")
	}

	wantErr := errors.New("boom")
	p.Notify(wantErr)
	p.Notify(errors.New("second call should be ignored"))

	select {
	case <-p.C():
	case <-time.After(time.Second):
		t.Fatal("C() never fired")
	}

	if !p.Fired() {
		t.Fatal("expected Fired() true after Notify")
	}
	if !errors.Is(p.Err(), wantErr) {
		t.Fatalf("Err() = %v, want %v", p.Err(), wantErr)
	}
}

func TestSentinelIsCleanExit(t *testing.T) {
	s := CleanExit("kernel requested unload")
	var target *Sentinel
	if !errors.As(error(s), &target) {
		t.Fatal("expected errors.As to recognize *Sentinel")
	}
	if target.Reason != "kernel requested unload" {
		t.Fatalf("unexpected reason: %q", target.Reason)
	}
}
