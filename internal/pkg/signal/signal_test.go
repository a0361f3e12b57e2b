package signal

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"hashmatch/internal/pkg/index"
)

func mustGet(t *testing.T, reg *Registry, name string) Type {
	t.Helper()
	st, ok := reg.Get(name)
	if !ok {
		t.Fatalf("signal type %q is not registered", name)
	}
	return st
}

func TestValidate(t *testing.T) {
	reg := NewDefaultRegistry(Options{})
	tests := []struct {
		name    string
		st      string
		value   string
		wantErr bool
	}{
		{name: "pdq ok", st: PDQName, value: strings.Repeat("a", 64)},
		{name: "pdq upper", st: PDQName, value: strings.Repeat("A", 64), wantErr: true},
		{name: "pdq padded", st: PDQName, value: " " + strings.Repeat("a", 64), wantErr: true},
		{name: "pdq short", st: PDQName, value: strings.Repeat("a", 63), wantErr: true},
		{name: "md5 ok", st: VideoMD5Name, value: "d41d8cd98f00b204e9800998ecf8427e"},
		{name: "md5 upper", st: VideoMD5Name, value: "D41D8CD98F00B204E9800998ECF8427E", wantErr: true},
		{name: "md5 long", st: VideoMD5Name, value: strings.Repeat("0", 64), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mustGet(t, reg, tt.st).Validate(tt.value)
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSignal) {
				t.Errorf("error %v is not ErrInvalidSignal", err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	reg := NewDefaultRegistry(Options{
		Thresholds:    map[string]int{PDQName: 400},
		MIHMinEntries: 10,
	})
	if got := reg.Names(); !slices.Equal(got, []string{PDQName, VideoMD5Name}) {
		t.Errorf("Names() = %v", got)
	}
	pdq := mustGet(t, reg, PDQName)
	if pdq.DefaultThreshold() != 256 {
		t.Errorf("threshold not clamped: %d", pdq.DefaultThreshold())
	}
	if pdq.IndexKind(9) != index.KindFlat || pdq.IndexKind(10) != index.KindMIH {
		t.Error("IndexKind does not switch at MIHMinEntries")
	}
	if _, ok := reg.Get("vpdq"); ok {
		t.Error("unexpected type vpdq")
	}
	for n, want := range map[int]index.Kind{0: index.KindFlat, 10: index.KindMIH} {
		b, err := NewIndexBuilder(pdq, n)
		if err != nil || b.Kind() != want {
			t.Errorf("NewIndexBuilder(pdq, %d) = %v, %v; want %s", n, b, err, want)
		}
	}
	defaults := mustGet(t, NewDefaultRegistry(Options{}), PDQName)
	if defaults.DefaultThreshold() != PDQDefaultThreshold || defaults.IndexKind(DefaultMIHMinEntries-1) != index.KindFlat {
		t.Error("unexpected defaults")
	}
}
