package availability

import (
	"errors"
	"sort"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var ErrInvalidDuration = errors.New("duration must be positive")

const DefaultIntervalMinutes = 30

// Range bounds the rendered grid independently of business hours so every day has the same rows.
type Range struct {
	Start model.Clock
	End   model.Clock
}

var DefaultRange = Range{Start: 7 * 60, End: 23 * 60}

type Query struct {
	Date            time.Time
	ProfessionalID  string
	Hours           *model.BusinessHours
	Appointments    []model.Appointment
	DurationMinutes int
	IntervalMinutes int
	Range           Range
}

type Interval struct {
	Start time.Time
	End   time.Time
}

// Resolve classifies every grid start in q.Range for a booking of q.DurationMinutes.
// It does no I/O; identical queries yield identical grids.
func Resolve(q Query) ([]model.TimeSlot, error) {
	if q.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	step := q.IntervalMinutes
	if step <= 0 {
		step = DefaultIntervalMinutes
	}
	rng := q.Range
	if rng.End <= rng.Start {
		rng = DefaultRange
	}

	hours := hoursFor(q.Hours, q.Date.Weekday())
	busy := Busy(q.Appointments, q.ProfessionalID)
	duration := time.Duration(q.DurationMinutes) * time.Minute

	slots := make([]model.TimeSlot, 0, int(rng.End-rng.Start)/step+1)
	for c := rng.Start; c < rng.End; c = c.Add(step) {
		start := c.On(q.Date)
		slots = append(slots, model.TimeSlot{
			Start:           c,
			Time:            c.String(),
			DisplayTime:     c.Display(),
			Status:          classify(hours, busy, start, start.Add(duration)),
			IsBusinessHours: hours.Open() && c >= hours.Start && c < hours.End,
		})
	}
	return slots, nil
}

// Classify returns the grid verdict for an arbitrary interval, on or off the grid.
// hours must be the record for start's weekday; a record for another weekday counts as closed.
func Classify(hours *model.BusinessHours, appointments []model.Appointment, professionalID string, start, end time.Time) model.SlotStatus {
	return classify(hoursFor(hours, start.Weekday()), Busy(appointments, professionalID), start, end)
}

func classify(hours *model.BusinessHours, busy []Interval, start, end time.Time) model.SlotStatus {
	if !withinHours(hours, start, end) {
		return model.SlotOutsideHours
	}
	if overlapsAny(start, end, busy) {
		return model.SlotBooked
	}
	return model.SlotAvailable
}

func withinHours(hours *model.BusinessHours, start, end time.Time) bool {
	if !hours.Open() || !end.After(start) {
		return false
	}
	open := hours.Start.On(start)
	closing := hours.End.On(start)
	return !start.Before(open) && !end.After(closing)
}

func hoursFor(hours *model.BusinessHours, weekday time.Weekday) *model.BusinessHours {
	if hours == nil || hours.Weekday != weekday {
		return nil
	}
	return hours
}

// Busy returns the occupied intervals of professionalID, sorted by start. Cancelled
// appointments and other professionals' appointments are dropped.
func Busy(appointments []model.Appointment, professionalID string) []Interval {
	var busy []Interval
	for _, a := range appointments {
		if a.ProfessionalID != professionalID || !a.Status.Occupies() {
			continue
		}
		busy = append(busy, Interval{Start: a.Start, End: a.End})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy
}

// BookedTimes lists the HH:MM starts of the professional's occupying appointments on date.
// An appointment carried over from the previous day is listed at "00:00".
func BookedTimes(appointments []model.Appointment, professionalID string, date time.Time) []string {
	day := model.StartOfDay(date)
	next := day.AddDate(0, 0, 1)
	times := []string{}
	for _, b := range Busy(appointments, professionalID) {
		if !b.End.After(day) || !b.Start.Before(next) {
			continue
		}
		start := b.Start
		if start.Before(day) {
			start = day
		}
		times = append(times, model.ClockOf(start.In(day.Location())).String())
	}
	return times
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
