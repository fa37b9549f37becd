// Package cron parses the poll cadence used by the scheduler.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse accepts a five-field expression or a descriptor such as "@every 1m".
// Fire times are evaluated in UTC.
func (p *Parser) Parse(expression string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	return &schedule{sched: sched}, nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.UTC())
}

// MaxGap returns the largest gap between consecutive fire times over one
// day starting at from. A gap above one minute means some target minutes
// are never evaluated.
func MaxGap(s Schedule, from time.Time) time.Duration {
	var maxGap time.Duration
	end := from.Add(24 * time.Hour)
	prev := s.Next(from)
	for i := 0; i < 1440 && prev.Before(end); i++ {
		next := s.Next(prev)
		if gap := next.Sub(prev); gap > maxGap {
			maxGap = gap
		}
		prev = next
	}
	return maxGap
}
