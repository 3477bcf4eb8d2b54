package queue

import (
	"fmt"
	"time"
)

// Schedule describes when a recurring job produces its next occurrence.
// Calendar schedules (hourly, daily, weekly, monthly) operate in UTC;
// out-of-range fields passed to the constructors are clamped into range.
type Schedule interface {
	// Next returns the first occurrence strictly after the given time.
	Next(after time.Time) time.Time
	// String returns a human-readable description of the schedule.
	String() string
}

// EveryInterval runs at a fixed interval, measured from the previous
// occurrence. Intervals below one second are raised to one second.
func EveryInterval(d time.Duration) Schedule {
	if d < time.Second {
		d = time.Second
	}
	return intervalSchedule{every: d}
}

// EveryMinute runs once a minute.
func EveryMinute() Schedule {
	return EveryInterval(time.Minute)
}

// EveryMinutes runs every n minutes.
func EveryMinutes(n int) Schedule {
	if n < 1 {
		n = 1
	}
	return EveryInterval(time.Duration(n) * time.Minute)
}

// EveryHours runs every n hours.
func EveryHours(n int) Schedule {
	if n < 1 {
		n = 1
	}
	return EveryInterval(time.Duration(n) * time.Hour)
}

// Hourly runs at the top of every hour.
func Hourly() Schedule {
	return HourlyAt(0)
}

// HourlyAt runs once an hour at the given minute.
func HourlyAt(min int) Schedule {
	return hourlySchedule{min: clampMinute(min)}
}

// Daily runs every day at midnight UTC.
func Daily() Schedule {
	return DailyAt(0, 0)
}

// DailyAt runs every day at the given UTC time.
func DailyAt(hour, min int) Schedule {
	return dailySchedule{hour: clampHour(hour), min: clampMinute(min)}
}

// Weekly runs every week on the given weekday at midnight UTC.
func Weekly(weekday time.Weekday) Schedule {
	return WeeklyOn(weekday, 0, 0)
}

// WeeklyOn runs every week on the given weekday at the given UTC time.
func WeeklyOn(weekday time.Weekday, hour, min int) Schedule {
	return weeklySchedule{weekday: weekday, hour: clampHour(hour), min: clampMinute(min)}
}

// Monthly runs every month on the given day at midnight UTC. Days past the
// end of a month fall back to its last day.
func Monthly(day int) Schedule {
	return MonthlyOn(day, 0, 0)
}

// MonthlyOn runs every month on the given day at the given UTC time. Days
// past the end of a month fall back to its last day.
func MonthlyOn(day, hour, min int) Schedule {
	if day < 1 {
		day = 1
	}
	if day > 31 {
		day = 31
	}
	return monthlySchedule{day: day, hour: clampHour(hour), min: clampMinute(min)}
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %s", s.every)
}

type hourlySchedule struct {
	min int
}

func (s hourlySchedule) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), s.min, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at minute %d", s.min)
}

type dailySchedule struct {
	hour int
	min  int
}

func (s dailySchedule) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), s.hour, s.min, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.min)
}

type weeklySchedule struct {
	weekday time.Weekday
	hour    int
	min     int
}

func (s weeklySchedule) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), s.hour, s.min, 0, 0, time.UTC)
	if days := (int(s.weekday) - int(next.Weekday()) + 7) % 7; days > 0 {
		next = next.AddDate(0, 0, days)
	}
	if !next.After(after) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (s weeklySchedule) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", s.weekday, s.hour, s.min)
}

type monthlySchedule struct {
	day  int
	hour int
	min  int
}

func (s monthlySchedule) Next(after time.Time) time.Time {
	after = after.UTC()
	next := s.occurrence(after.Year(), after.Month())
	if !next.After(after) {
		next = s.occurrence(after.Year(), after.Month()+1)
	}
	return next
}

// occurrence places the schedule in the given month, clamping the day to the
// month's length. time.Date normalizes month overflow into the next year.
func (s monthlySchedule) occurrence(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	day := s.day
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, s.hour, s.min, 0, 0, time.UTC)
}

func (s monthlySchedule) String() string {
	return fmt.Sprintf("monthly on day %d at %02d:%02d", s.day, s.hour, s.min)
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

func clampMinute(m int) int {
	if m < 0 {
		return 0
	}
	if m > 59 {
		return 59
	}
	return m
}
