//go:build linux

package lockfile

import "testing"

func TestAcquireThenSecondFails(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "cpcd_0")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	if _, err := Acquire(dir, "cpcd_0"); err == nil {
		t.Fatal("second Acquire succeeded, want failure")
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "cpcd_0")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	second, err := Acquire(dir, "cpcd_0")
	if err != nil {
		t.Fatalf("second Acquire after release: %v", err)
	}
	defer second.Release()
}

func TestDistinctInstancesDoNotConflict(t *testing.T) {
	dir := t.TempDir()

	a, err := Acquire(dir, "cpcd_0")
	if err != nil {
		t.Fatalf("Acquire cpcd_0: %v", err)
	}
	defer a.Release()

	b, err := Acquire(dir, "cpcd_1")
	if err != nil {
		t.Fatalf("Acquire cpcd_1: %v", err)
	}
	defer b.Release()
}
