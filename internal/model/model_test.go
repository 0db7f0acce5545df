package model

import (
	"errors"
	"testing"
	"time"
)

func TestIntervalNext(t *testing.T) {
	base := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		interval Interval
		want     time.Time
	}{
		{IntervalDaily, time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)},
		{IntervalWeekly, time.Date(2025, 2, 7, 9, 0, 0, 0, time.UTC)},
		// Jan 31 + 1 month normalizes past February's end.
		{IntervalMonthly, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := tt.interval.Next(base); !got.Equal(tt.want) {
			t.Errorf("%s.Next = %v, want %v", tt.interval, got, tt.want)
		}
	}
}

func TestIntervalValid(t *testing.T) {
	for _, i := range []Interval{IntervalDaily, IntervalWeekly, IntervalMonthly} {
		if !i.Valid() {
			t.Errorf("%s invalid", i)
		}
	}
	if Interval("hourly").Valid() {
		t.Error("hourly accepted")
	}
	if Interval("").Valid() {
		t.Error("empty accepted")
	}
}

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Limit: 50}},
		{Page{Limit: -1, Offset: -2}, Page{Limit: 50}},
		{Page{Limit: 100}, Page{Limit: 100}},
		{Page{Limit: 101}, Page{Limit: 100}},
		{Page{Limit: 10, Offset: 30}, Page{Limit: 10, Offset: 30}},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestReasonString(t *testing.T) {
	if got := ReasonString(ErrDailyLimitExceeded); got != "Daily limit exceeded" {
		t.Errorf("got %q", got)
	}
	// Non-reason errors collapse to the generic storage message.
	if got := ReasonString(errors.New("pq: connection refused")); got != "Database error" {
		t.Errorf("got %q", got)
	}
}

func TestIsReason(t *testing.T) {
	if !IsReason(ErrAllowanceInactive) {
		t.Error("ErrAllowanceInactive not a reason")
	}
	if IsReason(errors.New("boom")) {
		t.Error("arbitrary error treated as reason")
	}
	if IsReason(ErrStateConflict) {
		t.Error("internal conflict exposed as reason")
	}
}
