package engine

import "math"

// mergeTolerance coalesces segments whose gap is within player jitter.
const mergeTolerance = 0.25

type segment struct {
	start, end float64 // [start, end), end > start
}

// CoverageTracker accumulates disjoint watched intervals of the video.
// After every insertion the set is sorted by start and pairwise
// non-overlapping; segments within mergeTolerance are coalesced.
type CoverageTracker struct {
	segments []segment
	watching bool
	segStart float64 // open segment start, valid only while watching
}

// NewCoverageTracker returns an empty tracker; reset only at session start.
func NewCoverageTracker() *CoverageTracker {
	return &CoverageTracker{}
}

// AddSegment records [a, b) as watched. No-op when b <= a.
func (c *CoverageTracker) AddSegment(a, b float64) {
	if b <= a {
		return
	}
	merged := segment{start: a, end: b}
	out := make([]segment, 0, len(c.segments)+1)
	inserted := false
	for _, s := range c.segments {
		switch {
		case s.end < merged.start-mergeTolerance:
			out = append(out, s)
		case s.start > merged.end+mergeTolerance:
			if !inserted {
				out = append(out, merged)
				inserted = true
			}
			out = append(out, s)
		default:
			merged.start = math.Min(merged.start, s.start)
			merged.end = math.Max(merged.end, s.end)
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	c.segments = out
}

// StartWatch opens an accumulating segment at the given position.
func (c *CoverageTracker) StartWatch(at float64) {
	if c.watching {
		return
	}
	c.watching = true
	c.segStart = at
}

// StopWatch closes the open segment at the given position. Idempotent when
// not watching.
func (c *CoverageTracker) StopWatch(at float64) {
	if !c.watching {
		return
	}
	c.watching = false
	c.AddSegment(c.segStart, at)
}

// Watching reports whether a segment is currently accumulating.
func (c *CoverageTracker) Watching() bool { return c.watching }

// Segments returns a copy of the closed segment set.
func (c *CoverageTracker) Segments() [][2]float64 {
	out := make([][2]float64, len(c.segments))
	for i, s := range c.segments {
		out[i] = [2]float64{s.start, s.end}
	}
	return out
}

// WatchedSeconds sums closed-segment durations plus the elapsed portion of
// the open segment, clamped against effectiveEnd when it is positive.
func (c *CoverageTracker) WatchedSeconds(now, effectiveEnd float64) float64 {
	total := 0.0
	add := func(s segment) {
		start, end := s.start, s.end
		if effectiveEnd > 0 {
			start = math.Min(start, effectiveEnd)
			end = math.Min(end, effectiveEnd)
		}
		if end > start {
			total += end - start
		}
	}
	for _, s := range c.segments {
		add(s)
	}
	if c.watching && now > c.segStart {
		add(segment{start: c.segStart, end: now})
	}
	if effectiveEnd > 0 && total > effectiveEnd {
		total = effectiveEnd
	}
	return total
}

// EffectiveEnd resolves the coverage denominator: the authored cut-off when
// it is a positive finite number and the duration is known, else the
// duration itself.
func EffectiveEnd(endAt, duration float64) float64 {
	if endAt > 0 && !math.IsInf(endAt, 1) && !math.IsNaN(endAt) && duration > 0 {
		return math.Min(endAt, duration)
	}
	return duration
}

// WatchedPercent reports coverage against the effective end, in [0, 100].
// It snaps to exactly 100 when the uncovered remainder is at most one second
// or the raw percentage reaches 97; player rounding and buffering jitter
// must not keep a finished viewer below the finish bar.
func (c *CoverageTracker) WatchedPercent(now, endAt, duration float64) float64 {
	ee := EffectiveEnd(endAt, duration)
	if ee <= 0 {
		return 0
	}
	watched := c.WatchedSeconds(now, ee)
	pct := watched / ee * 100
	if ee-watched <= 1.0 || pct >= 97 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
