package util

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
}

func TestWindowContains(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{"unrestricted", "", "", at(3, 0), true},
		{"same day inside", "09:00", "11:00", at(10, 0), true},
		{"same day end inclusive", "09:00", "11:00", at(11, 0), true},
		{"same day outside", "09:00", "11:00", at(11, 1), false},
		{"wraps after midnight", "23:00", "02:00", at(1, 0), true},
		{"wraps before midnight", "23:00", "02:00", at(23, 30), true},
		{"wraps outside", "23:00", "02:00", at(12, 0), false},
		{"start only", "18:00", "", at(17, 59), false},
		{"end only", "", "06:00", at(5, 0), true},
	}
	for _, tc := range cases {
		w, err := ParseWindow(tc.start, tc.end, "UTC")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := w.Contains(tc.now); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestWindowTimezone(t *testing.T) {
	ok, err := InWindow(at(23, 30), "01:00", "03:00", "Europe/Berlin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("23:30 UTC is 01:30 in Berlin during summer time")
	}
}

func TestWindowNextOpen(t *testing.T) {
	w, err := ParseWindow("22:00", "04:00", "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := w.NextOpen(at(12, 0)); !got.Equal(at(22, 0)) {
		t.Fatalf("got %s", got)
	}
	if got := w.NextOpen(at(23, 0)); !got.Equal(at(23, 0)) {
		t.Fatalf("inside the window NextOpen should be now, got %s", got)
	}

	morning, err := ParseWindow("02:00", "05:00", "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := morning.NextOpen(at(6, 0)); !got.Equal(at(2, 0).AddDate(0, 0, 1)) {
		t.Fatalf("got %s", got)
	}
}

func TestParseWindowErrors(t *testing.T) {
	if _, err := ParseWindow("25:00", "", ""); err == nil {
		t.Fatalf("expected invalid start")
	}
	if _, err := ParseWindow("", "", "Mars/Olympus"); err == nil {
		t.Fatalf("expected invalid timezone")
	}
}
