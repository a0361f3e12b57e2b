package pagination

import (
	"testing"
	"time"
)

func TestCursor_Before(t *testing.T) {
	base := time.Unix(1000, 0)
	c := &Cursor{ID: 10, CreatedAt: base}
	tests := []struct {
		name string
		ts   time.Time
		id   int64
		want bool
	}{
		{"later time", base.Add(time.Second), 1, true},
		{"earlier time", base.Add(-time.Second), 99, false},
		{"same time higher id", base, 11, true},
		{"same row", base, 10, false},
		{"same time lower id", base, 9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Before(tt.ts, tt.id); got != tt.want {
				t.Errorf("Before() = %v, want %v", got, tt.want)
			}
		})
	}
	var nilCursor *Cursor
	if !nilCursor.Before(base, 0) {
		t.Error("nil cursor should precede every row")
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{-1, DefaultLimit},
		{50, 50},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// SQL Helper Tests
func TestSQLCursorCondition(t *testing.T) {
	tests := []struct {
		name  string
		order SortOrder
		want  string
	}{
		{"ascending", ASC, "(create_time, content_id) > ($2, $3)"},
		{"descending", DESC, "(create_time, content_id) < ($2, $3)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SQLCursorCondition("create_time", "content_id", tt.order, 2); got != tt.want {
				t.Errorf("SQLCursorCondition() = %q, want %q", got, tt.want)
			}
		})
	}
	if got := SQLOrderBy("create_time", "content_id", ASC); got != "create_time ASC, content_id ASC" {
		t.Errorf("SQLOrderBy() = %q", got)
	}
}
