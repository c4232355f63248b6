package utils

import (
	"testing"
	"time"
)

func TestGetDayStartFrom(t *testing.T) {
	tests := []struct {
		name  string
		input time.Time
		want  time.Time
	}{
		{
			name:  "middle of day",
			input: time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC),
			want:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "non-UTC zone converts first",
			input: time.Date(2024, 1, 15, 2, 0, 0, 0, time.FixedZone("UTC+8", 8*3600)),
			want:  time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetDayStartFrom(tt.input); !got.Equal(tt.want) {
				t.Errorf("GetDayStartFrom() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC)
	b := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	c := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	if !SameDay(a, b) {
		t.Error("a and b are the same day")
	}
	if SameDay(b, c) {
		t.Error("b and c are different days")
	}
}

func TestFromUnixMillis(t *testing.T) {
	got := FromUnixMillis(1700000000123)
	if got.UnixMilli() != 1700000000123 {
		t.Errorf("UnixMilli = %d", got.UnixMilli())
	}
	if got.Location() != time.UTC {
		t.Error("expected UTC location")
	}

	if FromUnixMillis(0).IsZero() {
		t.Error("zero millis must map to now, not zero time")
	}
}
