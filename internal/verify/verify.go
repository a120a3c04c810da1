// Package verify checks event logs against the Lamport clock rules and
// summarizes how far the nodes drifted apart.
package verify

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"lamportring/internal/eventlog"
)

// ErrViolation is returned by Report.Err when a log breaks a clock rule.
var ErrViolation = errors.New("verify: log violates clock rules")

// Log is one node's entries in append order.
type Log struct {
	Identity eventlog.Identity
	Entries  []eventlog.Entry
}

// Violation points at an offending row, numbered from 1 after the header.
type Violation struct {
	Row    int
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("row %d: %s", v.Row, v.Reason)
}

// Report is the result of checking one log.
type Report struct {
	Identity eventlog.Identity
	Rows     int
	// Expected is duration times tick rate, or 0 when no duration was given.
	Expected    int
	Counts      map[eventlog.EventType]int
	FinalClock  int64
	MaxJump     int64
	MaxQueueLen int
	// Cardinality is set when the row count misses Expected by more than one.
	Cardinality string
	Violations  []Violation
}

// OK reports whether no rule was broken.
func (r Report) OK() bool {
	return r.Cardinality == "" && len(r.Violations) == 0
}

// Err wraps ErrViolation with the first few violations.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	const show = 3
	parts := make([]string, 0, show+2)
	if r.Cardinality != "" {
		parts = append(parts, r.Cardinality)
	}
	for i, v := range r.Violations {
		if i == show {
			parts = append(parts, fmt.Sprintf("and %d more", len(r.Violations)-show))
			break
		}
		parts = append(parts, v.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrViolation, r.Identity, strings.Join(parts, "; "))
}

// Check validates a log:
//   - clock values strictly increase from an implicit 0
//   - send and internal rows advance the clock by exactly 1
//   - queue lengths are not negative
//   - with duration > 0, the row count is within one of duration times rate
func Check(l Log, duration time.Duration) Report {
	r := Report{
		Identity: l.Identity,
		Rows:     len(l.Entries),
		Counts:   make(map[eventlog.EventType]int, 3),
	}

	var prev int64
	for i, e := range l.Entries {
		row := i + 1
		jump := e.Clock - prev
		r.Counts[e.Event]++

		switch {
		case jump <= 0:
			r.violate(row, "clock %d does not advance past %d", e.Clock, prev)
		case e.Event != eventlog.Receive && jump != 1:
			r.violate(row, "%s moved clock by %d, want 1", e.Event, jump)
		}
		if e.QueueLen < 0 {
			r.violate(row, "negative queue length %d", e.QueueLen)
		}

		r.MaxJump = max(r.MaxJump, jump)
		r.MaxQueueLen = max(r.MaxQueueLen, e.QueueLen)
		prev = e.Clock
	}
	r.FinalClock = prev

	if duration > 0 {
		r.Expected = int(duration.Seconds() * float64(l.Identity.ClockRate))
		if d := r.Rows - r.Expected; d < -1 || d > 1 {
			r.Cardinality = fmt.Sprintf("%d rows, want %d±1", r.Rows, r.Expected)
		}
	}
	return r
}

func (r *Report) violate(row int, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Row: row, Reason: fmt.Sprintf(format, args...)})
}

// Summary compares final clocks across a ring.
type Summary struct {
	Reports []Report
	// Drift is the spread between the highest and lowest final clock.
	Drift   int64
	Leader  eventlog.Identity
	Laggard eventlog.Identity
}

// Err joins every failing report.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Reports {
		errs = append(errs, r.Err())
	}
	return errors.Join(errs...)
}

// CheckAll checks every log and sorts reports by process id.
func CheckAll(logs []Log, duration time.Duration) Summary {
	var s Summary
	for _, l := range logs {
		s.Reports = append(s.Reports, Check(l, duration))
	}
	slices.SortFunc(s.Reports, func(a, b Report) int {
		return cmp.Compare(a.Identity.ProcessID, b.Identity.ProcessID)
	})
	if len(s.Reports) == 0 {
		return s
	}

	hi := slices.MaxFunc(s.Reports, func(a, b Report) int { return cmp.Compare(a.FinalClock, b.FinalClock) })
	lo := slices.MinFunc(s.Reports, func(a, b Report) int { return cmp.Compare(a.FinalClock, b.FinalClock) })
	s.Leader, s.Laggard = hi.Identity, lo.Identity
	s.Drift = hi.FinalClock - lo.FinalClock
	return s
}
