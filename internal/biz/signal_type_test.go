package biz_test

import (
	"context"
	"errors"
	"testing"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/signal"
)

func TestSignalTypeUsecase_Ratios(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{ratios: map[string]float64{
		signal.PDQName:      0.5,
		signal.VideoMD5Name: 0,
	}})

	enabled, err := f.signalTypes.GetEnabledSignalTypes(ctx)
	if err != nil {
		t.Fatalf("GetEnabledSignalTypes: %v", err)
	}
	if len(enabled) != 1 || enabled[signal.PDQName].EnabledRatio != 0.5 {
		t.Fatalf("enabled = %v", enabled)
	}

	if err := f.signalTypes.SetEnabledRatio(ctx, signal.VideoMD5Name, 1); err != nil {
		t.Fatalf("SetEnabledRatio: %v", err)
	}
	if _, err := f.signalTypes.Lookup(ctx, signal.VideoMD5Name); err != nil {
		t.Fatalf("override should enable video_md5: %v", err)
	}

	tests := []struct {
		name  string
		st    string
		ratio float64
	}{
		{name: "unknown type", st: "tmk", ratio: 1},
		{name: "negative", st: signal.PDQName, ratio: -0.1},
		{name: "above one", st: signal.PDQName, ratio: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.signalTypes.SetEnabledRatio(ctx, tt.st, tt.ratio); !errors.Is(err, biz.ErrInvalidSignal) {
				t.Fatalf("SetEnabledRatio error = %v, want ErrInvalidSignal", err)
			}
		})
	}
}

func TestCheckpoint_Covers(t *testing.T) {
	base := biz.Checkpoint{LastItemTimestamp: 100, LastItemID: 7, TotalHashCount: 3}
	tests := []struct {
		name   string
		target biz.Checkpoint
		want   bool
	}{
		{name: "equal", target: base, want: true},
		{name: "older target", target: biz.Checkpoint{LastItemTimestamp: 90, LastItemID: 7, TotalHashCount: 3}, want: true},
		{name: "newer target", target: biz.Checkpoint{LastItemTimestamp: 101, LastItemID: 7, TotalHashCount: 3}},
		{name: "other id", target: biz.Checkpoint{LastItemTimestamp: 100, LastItemID: 8, TotalHashCount: 3}},
		{name: "other count", target: biz.Checkpoint{LastItemTimestamp: 100, LastItemID: 7, TotalHashCount: 2}},
		{name: "empty target", target: biz.Checkpoint{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Covers(tt.target); got != tt.want {
				t.Fatalf("Covers(%s) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}
