// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, expression string) Schedule {
	t.Helper()
	schedule, err := Parse(expression)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expression, err)
	}
	return schedule
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParseValid(t *testing.T) {
	expressions := []string{
		"* * * * *",
		"0 0 1 * *",
		"*/15 0-6 1,15 * 1-5",
		"5/15 * * * *",
		"0-30/5 * * * *",
		"@monthly",
		"@DAILY",
		"  0 0 1 * *  ",
	}
	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			if _, err := Parse(expression); err != nil {
				t.Errorf("Parse(%q) = %v, want nil", expression, err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    string
	}{
		{"too_few_fields", "* * * *", "expected 5 fields"},
		{"too_many_fields", "* * * * * *", "expected 5 fields"},
		{"empty", "", "expected 5 fields"},
		{"minute_out_of_range", "60 * * * *", "out of range"},
		{"hour_out_of_range", "* 24 * * *", "out of range"},
		{"day_zero", "* * 0 * *", "out of range"},
		{"month_out_of_range", "* * * 13 *", "out of range"},
		{"dow_out_of_range", "* * * * 7", "out of range"},
		{"zero_step", "*/0 * * * *", "step must be positive"},
		{"bad_range", "5-3 * * * *", "range start 5 > end 3"},
		{"non_numeric", "abc * * * *", "invalid value"},
		{"bad_step_value", "*/x * * * *", "invalid step"},
		{"unknown_descriptor", "@fortnightly", "unknown descriptor"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(test.expression)
			if err == nil {
				t.Fatalf("Parse(%q) = nil, want error containing %q", test.expression, test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Parse(%q) = %q, want error containing %q", test.expression, err, test.wantErr)
			}
		})
	}
}

func TestNextMonthly(t *testing.T) {
	schedule := mustParse(t, "0 0 1 * *")

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"mid_month", utc(2026, 10, 18, 9, 30), utc(2026, 11, 1, 0, 0)},
		{"exactly_on_fire_time", utc(2026, 11, 1, 0, 0), utc(2026, 12, 1, 0, 0)},
		{"year_rollover", utc(2026, 12, 15, 0, 0), utc(2027, 1, 1, 0, 0)},
		{"one_minute_before", utc(2026, 1, 31, 23, 59), utc(2026, 2, 1, 0, 0)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			next, err := schedule.Next(test.from)
			if err != nil {
				t.Fatalf("Next(%v): %v", test.from, err)
			}
			if !next.Equal(test.want) {
				t.Errorf("Next(%v) = %v, want %v", test.from, next, test.want)
			}
		})
	}
}

func TestMonthlyDescriptorMatchesExpression(t *testing.T) {
	descriptor := mustParse(t, "@monthly")
	expression := mustParse(t, "0 0 1 * *")

	from := utc(2026, 3, 7, 12, 0)
	for range 14 {
		a, err := descriptor.Next(from)
		if err != nil {
			t.Fatal(err)
		}
		b, err := expression.Next(from)
		if err != nil {
			t.Fatal(err)
		}
		if !a.Equal(b) {
			t.Fatalf("@monthly Next(%v) = %v, expression gives %v", from, a, b)
		}
		from = a
	}
	if descriptor.String() != "@monthly" {
		t.Errorf("String() = %q, want %q", descriptor.String(), "@monthly")
	}
}

func TestNextEvery15Minutes(t *testing.T) {
	schedule := mustParse(t, "*/15 * * * *")

	tests := []struct {
		from time.Time
		want time.Time
	}{
		{utc(2026, 2, 18, 10, 0), utc(2026, 2, 18, 10, 15)},
		{utc(2026, 2, 18, 10, 14), utc(2026, 2, 18, 10, 15)},
		{utc(2026, 2, 18, 10, 46), utc(2026, 2, 18, 11, 0)},
		{utc(2026, 2, 18, 23, 50), utc(2026, 2, 19, 0, 0)},
	}
	for _, test := range tests {
		next, err := schedule.Next(test.from)
		if err != nil {
			t.Fatalf("Next(%v): %v", test.from, err)
		}
		if !next.Equal(test.want) {
			t.Errorf("Next(%v) = %v, want %v", test.from, next, test.want)
		}
	}
}

func TestNextSingleValueWithStep(t *testing.T) {
	schedule := mustParse(t, "5/20 * * * *")

	next, err := schedule.Next(utc(2026, 2, 18, 10, 6))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 18, 10, 25); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextEitherDayWhenBothRestricted(t *testing.T) {
	// First of the month OR Monday. Feb 2 2026 is a Monday.
	schedule := mustParse(t, "0 0 1 * 1")

	next, err := schedule.Next(utc(2026, 2, 2, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 9, 0, 0); !next.Equal(want) {
		t.Errorf("after Monday Feb 2: Next = %v, want %v", next, want)
	}

	// Tuesday Feb 24: the 1st of March (a Sunday) comes before the
	// next Monday.
	next, err = schedule.Next(utc(2026, 2, 24, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 3, 1, 0, 0); !next.Equal(want) {
		t.Errorf("after Feb 24: Next = %v, want %v", next, want)
	}
}

func TestNextWeekdaysOnly(t *testing.T) {
	schedule := mustParse(t, "0 9 * * 1-5")

	// Friday Feb 20 2026 after 9am rolls to Monday Feb 23.
	next, err := schedule.Next(utc(2026, 2, 20, 10, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 23, 9, 0); !next.Equal(want) {
		t.Errorf("Next = %v (%v), want %v", next, next.Weekday(), want)
	}
}

func TestNextSkipsShortMonths(t *testing.T) {
	schedule := mustParse(t, "0 0 31 * *")

	next, err := schedule.Next(utc(2026, 2, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 3, 31, 0, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextLeapDay(t *testing.T) {
	schedule := mustParse(t, "0 0 29 2 *")

	next, err := schedule.Next(utc(2026, 1, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2028, 2, 29, 0, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextImpossibleDate(t *testing.T) {
	schedule := mustParse(t, "0 0 30 2 *")

	if _, err := schedule.Next(utc(2026, 1, 1, 0, 0)); err == nil {
		t.Fatal("Next for Feb 30 = nil error, want error")
	}
}

func TestNextConvertsToUTC(t *testing.T) {
	schedule := mustParse(t, "0 0 1 * *")
	zone := time.FixedZone("UTC-5", -5*60*60)

	// Oct 31 21:00 at UTC-5 is Nov 1 02:00 UTC, so the November fire
	// has already passed.
	next, err := schedule.Next(time.Date(2026, 10, 31, 21, 0, 0, 0, zone))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 12, 1, 0, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextN(t *testing.T) {
	schedule := mustParse(t, "@monthly")

	times, err := schedule.NextN(utc(2026, 10, 18, 0, 0), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{
		utc(2026, 11, 1, 0, 0),
		utc(2026, 12, 1, 0, 0),
		utc(2027, 1, 1, 0, 0),
	}
	if len(times) != len(want) {
		t.Fatalf("NextN returned %d times, want %d", len(times), len(want))
	}
	for index := range want {
		if !times[index].Equal(want[index]) {
			t.Errorf("times[%d] = %v, want %v", index, times[index], want[index])
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse did not panic on invalid expression")
		}
	}()
	MustParse("not a cron")
}
