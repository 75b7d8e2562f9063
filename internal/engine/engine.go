package engine

import (
	"math"
	"sync"
	"time"

	"video-gate-service/internal/domain"
)

// Jump detection and gating tolerances, in seconds of playhead time.
const (
	forwardJumpGap  = 1.25
	backwardJumpGap = 0.75
	ceilingSlack    = 0.4
	ceilingBackoff  = 0.05
	reviewExitSlack = 0.1
)

const defaultTextLimit = 500

// Player controls the remote playback provider. All calls are best-effort:
// implementations must never panic into the engine.
type Player interface {
	Play()
	Pause()
	SeekTo(t float64, allowSeekAhead bool)
}

// Renderer asks the remote surface for overlays and reads nothing back; all
// viewer input arrives through the engine's handler methods.
type Renderer interface {
	ShowItem(item domain.Item, prefill *domain.Answer, readOnly bool)
	ShowFeedback(itemID, text string, score Score, awaitContinue bool)
	CloseOverlay()
	ShowIdentity(prompt string)
	ShowThanks(points, max, percent float64)
	ShowWarning(msg string)
	ShowValidation(itemID, msg string)
	ShowSubmitError(msg string)
}

// PlayerState mirrors the playback provider's state-change notifications.
type PlayerState int

const (
	StateUnstarted PlayerState = iota
	StatePlaying
	StatePaused
	StateBuffering
	StateEnded
)

// ParsePlayerState maps the wire representation to a PlayerState.
func ParsePlayerState(s string) PlayerState {
	switch s {
	case "playing":
		return StatePlaying
	case "paused":
		return StatePaused
	case "buffering":
		return StateBuffering
	case "ended":
		return StateEnded
	}
	return StateUnstarted
}

// OverlayState is the finite state of the viewer-facing overlay.
type OverlayState int

const (
	OverlayClosed OverlayState = iota
	OverlayItem
	OverlayIdentity
	OverlayThanks
)

// Engine owns all mutable session state: coverage, gate state and the
// submission guard. One instance per viewer session; every entry point
// serializes on the internal mutex, so at most one tick runs at a time.
type Engine struct {
	mu sync.Mutex

	quiz     domain.Quiz
	player   Player
	renderer Renderer
	sink     AttemptSink

	coverage *CoverageTracker
	answers  map[string]domain.Answer

	overlay       OverlayState
	currentItem   string
	reviewShowing bool // current overlay is a read-only review re-show

	started          bool
	lastNow          float64
	peakTime         float64
	duration         float64
	ended            bool
	warnedSeekOnce   bool
	review           bool
	reviewExitTime   float64
	reviewedThisPass map[string]struct{}

	identity         string
	identityCaptured bool

	nonce         string
	submitting    bool
	submittedOnce bool
	retryArmed    bool // a dispatch failed; RetrySubmit may fire

	closed      bool
	feedbackSeq int

	afterFunc func(time.Duration, func())
	spawn     func(func())
}

// Option customizes an Engine; used by tests for determinism.
type Option func(*Engine)

// WithAfterFunc replaces the feedback-delay timer.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(e *Engine) { e.afterFunc = fn }
}

// WithSpawn replaces the goroutine launcher used for submission dispatch.
func WithSpawn(fn func(func())) Option {
	return func(e *Engine) { e.spawn = fn }
}

// WithNonce pins the session nonce.
func WithNonce(nonce string) Option {
	return func(e *Engine) { e.nonce = nonce }
}

// New validates the quiz and builds a fresh engine for one viewer session.
// A malformed quiz is fatal: no engine is created and no gating logic runs.
func New(quiz domain.Quiz, player Player, renderer Renderer, sink AttemptSink, opts ...Option) (*Engine, error) {
	if err := quiz.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		quiz:             quiz,
		player:           player,
		renderer:         renderer,
		sink:             sink,
		coverage:         NewCoverageTracker(),
		answers:          make(map[string]domain.Answer),
		reviewedThisPass: make(map[string]struct{}),
		nonce:            newNonce(),
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		spawn: func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close drops the session. Later samples, timers and submission callbacks
// are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// HandleSample processes one playback sample. Exactly one corrective action
// (rewind or ceiling seek) happens per sample; the early returns below are
// deliberate.
func (e *Engine) HandleSample(now, duration float64, state PlayerState) {
	e.mu.Lock()
	attempt := e.handleSampleLocked(now, duration, state)
	e.mu.Unlock()
	if attempt != nil {
		e.dispatch(*attempt)
	}
}

func (e *Engine) handleSampleLocked(now, duration float64, state PlayerState) *domain.Attempt {
	if e.closed {
		return nil
	}
	if duration > 0 {
		e.duration = duration
	}
	if state == StateEnded {
		e.ended = true
	}
	playing := state == StatePlaying

	if !e.started {
		e.started = true
		e.lastNow = now
		e.peakTime = now
	}
	last := e.lastNow
	if now > e.peakTime {
		e.peakTime = now
	}

	forward := now > last+forwardJumpGap
	backward := now+backwardJumpGap < last

	// A jump must never let coverage silently span the skipped gap.
	if (forward || backward) && e.coverage.Watching() {
		e.coverage.StopWatch(last)
		e.coverage.StartWatch(now)
	}

	if backward && e.quiz.ReviewOnRewatch && e.overlay == OverlayClosed && !e.review {
		e.review = true
		e.reviewExitTime = e.peakTime
		e.reviewedThisPass = make(map[string]struct{})
	}

	// One-time corrective rewind on the session's first forward jump. The
	// early return skips the ceiling check for this sample. The open segment
	// must follow the playhead back, or everything watched between the seek
	// target and the jumped-to position is lost.
	if forward && !e.quiz.AllowSeeking && !e.warnedSeekOnce && e.overlay == OverlayClosed {
		e.warnedSeekOnce = true
		e.safeSeek(last)
		if e.coverage.Watching() {
			e.coverage.StopWatch(now)
			e.coverage.StartWatch(last)
		}
		e.renderer.ShowWarning("Seeking ahead is disabled for this video.")
		e.lastNow = last
		return nil
	}

	// Hard ceiling: a fast seek between two samples must not vault over an
	// ungated item. Same re-anchoring rule as the rewind above.
	if !e.quiz.AllowSeeking {
		if ceiling := e.nextGateTimeAfter(last); now > ceiling+ceilingSlack {
			target := ceiling - ceilingBackoff
			if target < 0 {
				target = 0
			}
			e.safeSeek(target)
			if e.coverage.Watching() {
				e.coverage.StopWatch(now)
				e.coverage.StartWatch(target)
			}
			e.lastNow = target
			return nil
		}
	}

	if e.review && now >= e.reviewExitTime-reviewExitSlack {
		e.review = false
		e.reviewedThisPass = make(map[string]struct{})
	}

	if playing && e.overlay == OverlayClosed {
		e.coverage.StartWatch(now)
	} else {
		e.coverage.StopWatch(now)
	}

	if e.overlay == OverlayClosed && e.maybeTrigger(now) {
		e.lastNow = now
		return nil
	}

	e.lastNow = now
	return e.maybeFinishLocked(now)
}

// HandleStateChange processes an asynchronous provider notification.
func (e *Engine) HandleStateChange(state PlayerState) {
	e.mu.Lock()
	var attempt *domain.Attempt
	if !e.closed {
		switch state {
		case StateEnded:
			e.ended = true
			e.coverage.StopWatch(e.lastNow)
			attempt = e.maybeFinishLocked(e.lastNow)
		case StatePlaying:
			if e.overlay == OverlayClosed {
				e.coverage.StartWatch(e.lastNow)
			}
		case StatePaused, StateBuffering:
			e.coverage.StopWatch(e.lastNow)
		}
	}
	e.mu.Unlock()
	if attempt != nil {
		e.dispatch(*attempt)
	}
}

// nextGateTimeAfter returns the earliest eligible trigger at or after the
// given position, or +Inf when none remains.
func (e *Engine) nextGateTimeAfter(from float64) float64 {
	next := math.Inf(1)
	for _, item := range e.quiz.Items {
		if item.T >= from && e.itemEligible(item) && item.T < next {
			next = item.T
		}
	}
	return next
}

func (e *Engine) itemEligible(item domain.Item) bool {
	if _, answered := e.answers[item.ID]; !answered {
		return true
	}
	if e.review && e.quiz.ReviewOnRewatch {
		_, seen := e.reviewedThisPass[item.ID]
		return !seen
	}
	return false
}

// maybeTrigger opens the first due eligible item, scanning in declared
// order; earlier-declared items win simultaneous triggers.
func (e *Engine) maybeTrigger(now float64) bool {
	for _, item := range e.quiz.Items {
		if item.T > now || !e.itemEligible(item) {
			continue
		}
		prev, answered := e.answers[item.ID]
		e.overlay = OverlayItem
		e.currentItem = item.ID
		e.reviewShowing = e.review && answered
		if e.reviewShowing {
			e.reviewedThisPass[item.ID] = struct{}{}
		}
		e.coverage.StopWatch(now)
		e.safePause()
		var prefill *domain.Answer
		if answered {
			prefill = &prev
		}
		e.renderer.ShowItem(item, prefill, e.reviewShowing)
		return true
	}
	return false
}

// SubmitAnswer records and grades the viewer's response to the open item.
func (e *Engine) SubmitAnswer(itemID string, ans domain.Answer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.overlay != OverlayItem || e.currentItem != itemID || e.reviewShowing {
		return
	}
	item, ok := e.quiz.ItemByID(itemID)
	if !ok {
		return
	}
	ans.Kind = item.Type

	switch item.Type {
	case domain.ItemMCQ, domain.ItemPoll:
		if len(ans.Selected) == 0 {
			e.renderer.ShowValidation(itemID, "Please select an answer.")
			return
		}
	case domain.ItemFIB, domain.ItemFR:
		limit := item.MaxLen
		if limit <= 0 {
			limit = defaultTextLimit
		}
		ans.Text = domain.SanitizeText(ans.Text, limit)
		if item.Type == domain.ItemFR {
			ans.MaxLen = limit
		}
	}

	e.answers[itemID] = ans
	score := ScoreItem(item, ans)
	text := feedbackText(item, ans, score)

	if e.quiz.RequireContinue {
		e.renderer.ShowFeedback(itemID, text, score, true)
		return
	}
	e.renderer.ShowFeedback(itemID, text, score, false)

	delay := e.quiz.FeedbackDelaySeconds
	if delay <= 0 {
		e.closeOverlayLocked()
		return
	}
	e.feedbackSeq++
	seq := e.feedbackSeq
	e.afterFunc(time.Duration(delay*float64(time.Second)), func() {
		e.mu.Lock()
		if !e.closed && e.overlay == OverlayItem && e.currentItem == itemID && e.feedbackSeq == seq {
			e.closeOverlayLocked()
		}
		e.mu.Unlock()
	})
}

// Continue dismisses the open overlay. For scorable items it is only honored
// once an answer is stored; pause notices and review re-shows close directly.
func (e *Engine) Continue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	switch e.overlay {
	case OverlayItem:
		item, ok := e.quiz.ItemByID(e.currentItem)
		if !ok {
			return
		}
		_, answered := e.answers[e.currentItem]
		if e.reviewShowing {
			e.closeOverlayLocked()
			return
		}
		if item.Type == domain.ItemPause {
			if !answered {
				e.answers[e.currentItem] = domain.Answer{Kind: domain.ItemPause}
			}
			e.closeOverlayLocked()
			return
		}
		if answered {
			e.closeOverlayLocked()
		}
	case OverlayThanks:
		e.overlay = OverlayClosed
		e.renderer.CloseOverlay()
	}
}

// CloseThanks dismisses the terminal thanks surface.
func (e *Engine) CloseThanks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.overlay != OverlayThanks {
		return
	}
	e.overlay = OverlayClosed
	e.renderer.CloseOverlay()
}

func (e *Engine) closeOverlayLocked() {
	e.overlay = OverlayClosed
	e.currentItem = ""
	e.reviewShowing = false
	e.feedbackSeq++
	e.renderer.CloseOverlay()
	e.safePlay()
}

// maybeFinishLocked arms the identity/finish path once coverage reaches the
// watched-to-end condition, or the provider ended naturally and the quiz
// does not insist on full coverage.
func (e *Engine) maybeFinishLocked(now float64) *domain.Attempt {
	if e.overlay != OverlayClosed || e.submitting || e.submittedOnce {
		return nil
	}
	watched := e.coverage.WatchedPercent(now, e.quiz.EndAt, e.duration)
	done := watched >= 100
	if !done && e.ended && !e.quiz.RequireWatchToEnd {
		done = true
	}
	if !done {
		return nil
	}
	if e.quiz.RequireIdentity && !e.identityCaptured {
		e.overlay = OverlayIdentity
		e.safePause()
		prompt := e.quiz.IdentityPrompt
		if prompt == "" {
			prompt = "Enter your name to record your attempt."
		}
		e.renderer.ShowIdentity(prompt)
		return nil
	}
	return e.prepareSubmitLocked()
}

// Playback-control calls are best-effort and must never crash the tick.
func (e *Engine) safePause() {
	defer func() { _ = recover() }()
	e.player.Pause()
}

func (e *Engine) safePlay() {
	defer func() { _ = recover() }()
	e.player.Play()
}

func (e *Engine) safeSeek(t float64) {
	defer func() { _ = recover() }()
	if t < 0 {
		t = 0
	}
	e.player.SeekTo(t, true)
}

func feedbackText(item domain.Item, ans domain.Answer, score Score) string {
	var text string
	switch item.Type {
	case domain.ItemMCQ, domain.ItemCheckbox, domain.ItemFIB:
		switch {
		case score.Correct:
			text = "Correct."
		case score.Partial:
			text = "Partially correct."
		default:
			text = "Incorrect."
		}
	case domain.ItemPoll, domain.ItemFR:
		text = "Response recorded."
	case domain.ItemPause:
		return ""
	}
	for _, id := range ans.Selected {
		if note, ok := item.Feedback[id]; ok && note != "" {
			text += " " + note
		}
	}
	return text
}

// Accessors below expose read-only snapshots for transports and tests.

// Overlay returns the current overlay state.
func (e *Engine) Overlay() OverlayState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlay
}

// InReview reports whether a review pass is active.
func (e *Engine) InReview() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.review
}

// Answers returns a copy of the stored answers.
func (e *Engine) Answers() map[string]domain.Answer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]domain.Answer, len(e.answers))
	for id, a := range e.answers {
		out[id] = a
	}
	return out
}

// Totals reports the current points, max and two-decimal percentage.
func (e *Engine) Totals() (points, max, percent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	points, max = Totals(e.quiz, e.answers)
	return points, max, ScorePercent(points, max)
}

// WatchedPercent reports coverage as of the latest sample.
func (e *Engine) WatchedPercent() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coverage.WatchedPercent(e.lastNow, e.quiz.EndAt, e.duration)
}
