package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatSeconds(t *testing.T) {
	got := FormatSeconds(3723.5)
	expected := "01:02:03.500"
	if got != expected {
		t.Errorf("expected %q, got %q", expected, got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"45.5", 45.5},
		{"01:30", 90},
		{"01:02:03.5", 3723.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if _, err := ParseTimestamp("a:b"); err == nil {
		t.Error("expected error for invalid timestamp")
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := ParseFrameRate("30000/1001"); got < 29.96 || got > 29.98 {
		t.Errorf("expected ~29.97, got %v", got)
	}
	if got := ParseFrameRate("25"); got != 25 {
		t.Errorf("expected 25, got %v", got)
	}
	if got := ParseFrameRate("1/0"); got != 0 {
		t.Errorf("expected 0 for zero denominator, got %v", got)
	}
}

func TestFrameCount(t *testing.T) {
	if got := FrameCount(5, 30); got != 150 {
		t.Errorf("expected 150, got %d", got)
	}
	if got := FrameCount(1.01, 30); got != 31 {
		t.Errorf("expected 31, got %d", got)
	}
	if got := FrameCount(0, 30); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.bin")
	dst := filepath.Join(dir, "b.bin")
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}
	if FileExists(src) {
		t.Error("source still exists")
	}
	if !FileExists(dst) {
		t.Error("destination missing")
	}
}
