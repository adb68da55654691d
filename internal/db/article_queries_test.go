package db

import (
	"testing"
	"time"

	"horse.fit/sift/internal/globaltime"
)

func TestDaysCutoffFollowsPipelineClock(t *testing.T) {
	frozen := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(frozen)
	defer globaltime.ResetTime()

	want := time.Date(2025, 5, 27, 12, 0, 0, 0, time.UTC)
	if got := daysCutoff(14); !got.Equal(want) {
		t.Fatalf("daysCutoff(14) = %v, want %v", got, want)
	}
}
