package version

import "testing"

func TestCompatible(t *testing.T) {
	cases := []struct {
		name string
		a, b Version
		want bool
	}{
		{"equal", Version{1, 0, 0}, Version{1, 0, 0}, true},
		{"minor differs", Version{1, 2, 0}, Version{1, 0, 5}, true},
		{"major differs", Version{1, 0, 0}, Version{2, 0, 0}, false},
		{"zero vs nonzero major", Version{0, 0, 0}, Version{1, 0, 0}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Compatible(c.a, c.b); got != c.want {
				t.Errorf("Compatible(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	v := Version{Major: 3, Minor: 1, Patch: 4}
	if got, want := v.String(), "3.1.4"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
