package services

import (
	"fmt"
	"time"

	"callwatch/shared/config"
)

type phase struct {
	end      time.Duration // cumulative, measured from the alert's creation
	interval time.Duration
}

// PhaseSchedule maps the age of an alert to how often it is re-checked.
// Checks get rarer as the alert ages and stop once the last phase ends.
type PhaseSchedule struct {
	phases []phase
}

// DefaultPhases: 5h every 3m, 12h every 10m, 7d hourly, 14d every 6h, 14d every 12h.
func DefaultPhases() []config.Phase {
	day := 24 * time.Hour
	return []config.Phase{
		{Duration: 5 * time.Hour, Interval: 3 * time.Minute},
		{Duration: 12 * time.Hour, Interval: 10 * time.Minute},
		{Duration: 7 * day, Interval: time.Hour},
		{Duration: 14 * day, Interval: 6 * time.Hour},
		{Duration: 14 * day, Interval: 12 * time.Hour},
	}
}

func NewPhaseSchedule(phases []config.Phase) (*PhaseSchedule, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("phase schedule needs at least one phase")
	}
	s := &PhaseSchedule{phases: make([]phase, 0, len(phases))}
	var end time.Duration
	for i, p := range phases {
		if p.Duration <= 0 || p.Interval <= 0 {
			return nil, fmt.Errorf("phase %d: duration and interval must be positive", i)
		}
		end += p.Duration
		s.phases = append(s.phases, phase{end: end, interval: p.Interval})
	}
	return s, nil
}

// IntervalFor returns the re-check interval for an alert of the given age,
// or false once the alert has outlived the schedule.
func (s *PhaseSchedule) IntervalFor(age time.Duration) (time.Duration, bool) {
	for _, p := range s.phases {
		if age <= p.end {
			return p.interval, true
		}
	}
	return 0, false
}

// Total is how long an alert is followed up.
func (s *PhaseSchedule) Total() time.Duration {
	return s.phases[len(s.phases)-1].end
}
