// Copyright 2026 The Prunekit Authors. SPDX-License-Identifier: Apache-2.0

package prune

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Schedule is the ordered sequence of pruning amounts assigned positionally to the residual blocks of a
// network. It is independent of the network structure.
type Schedule []float64

// DefaultSchedule used for residual blocks if none is configured.
var DefaultSchedule = Schedule{0.1, 0.1, 0.2, 0.2, 0.2, 0.2, 0.3, 0.3}

// At returns the amount at position i, reusing the last entry once the schedule is exhausted.
// It panics if the schedule is empty.
func (s Schedule) At(i int) float64 {
	if len(s) == 0 {
		panic(errors.New("prune.Schedule.At() called on an empty schedule"))
	}
	if i < 0 {
		i = 0
	}
	return s[min(i, len(s)-1)]
}

// Validate returns an error if the schedule is empty or any amount is outside [0, 1).
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return errors.New("empty pruning schedule")
	}
	for ii, amount := range s {
		if !(amount >= 0 && amount < 1) {
			return errors.Errorf("pruning schedule entry #%d is %g, it must be in the range [0, 1)", ii, amount)
		}
	}
	return nil
}

// String returns the schedule in the format accepted by ParseSchedule.
func (s Schedule) String() string {
	parts := make([]string, len(s))
	for ii, amount := range s {
		parts[ii] = strconv.FormatFloat(amount, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseSchedule parses a comma-separated list of amounts, e.g. "0.1,0.2,0.3".
func ParseSchedule(text string) (Schedule, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty pruning schedule")
	}
	parts := strings.Split(text, ",")
	s := make(Schedule, len(parts))
	for ii, part := range parts {
		amount, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing pruning schedule %q", text)
		}
		s[ii] = amount
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// cursor is the position in the schedule used by the residual blocks.
//
// It starts at 0 and advances after each block while it is below len(schedule)-2: the last entry is
// never reached by advancement.
type cursor struct {
	position, limit int
}

func newCursor(s Schedule) *cursor {
	return &cursor{limit: len(s) - 2}
}

func (c *cursor) advance() {
	if c.position < c.limit {
		c.position++
	}
}

func (c *cursor) String() string { return fmt.Sprintf("%d/%d", c.position, c.limit) }
