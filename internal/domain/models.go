package domain

import (
	"fmt"
	"regexp"
)

// ItemType is the closed set of quiz item kinds.
type ItemType string

const (
	ItemMCQ      ItemType = "mcq"
	ItemCheckbox ItemType = "checkbox"
	ItemFIB      ItemType = "fib"
	ItemFR       ItemType = "fr"
	ItemPoll     ItemType = "poll"
	ItemPause    ItemType = "pause"
)

// Scorable reports whether an item of this type contributes to the max score.
func (t ItemType) Scorable() bool {
	switch t {
	case ItemMCQ, ItemCheckbox, ItemFIB:
		return true
	}
	return false
}

func (t ItemType) valid() bool {
	switch t {
	case ItemMCQ, ItemCheckbox, ItemFIB, ItemFR, ItemPoll, ItemPause:
		return true
	}
	return false
}

// Choice is a selectable option for mcq/checkbox/poll items.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Item is a single timestamp-triggered quiz element. Immutable after load.
type Item struct {
	ID     string   `json:"id"`
	Type   ItemType `json:"type"`
	T      float64  `json:"t"` // trigger second into the video
	Prompt string   `json:"prompt,omitempty"`
	Note   string   `json:"note,omitempty"` // pause items

	// mcq / checkbox / poll
	Choices  []Choice          `json:"choices,omitempty"`
	Correct  []string          `json:"correct,omitempty"` // choice ids; absent for poll
	Feedback map[string]string `json:"feedback,omitempty"`

	// fib
	Accept        []string `json:"accept,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`

	// fib / fr
	Placeholder string `json:"placeholder,omitempty"`
	MaxLen      int    `json:"maxLen,omitempty"` // fr text limit
}

// Quiz is the full document fetched once at session boot. Immutable.
type Quiz struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
	Group    string `json:"group,omitempty"`
	VideoID  string `json:"videoId,omitempty"`

	EndAt                float64 `json:"endAt,omitempty"` // authored cut-off, seconds; 0 = unset
	AllowSeeking         bool    `json:"allowSeeking,omitempty"`
	RequireContinue      bool    `json:"requireContinue,omitempty"`
	RequireWatchToEnd    bool    `json:"requireWatchToEnd,omitempty"`
	RequireIdentity      bool    `json:"requireIdentity,omitempty"`
	ReviewOnRewatch      bool    `json:"reviewOnRewatch,omitempty"`
	IdentityPrompt       string  `json:"identityPrompt,omitempty"`
	FeedbackDelaySeconds float64 `json:"feedbackDelaySeconds,omitempty"`

	Items []Item `json:"items"`
}

// Validate checks structural invariants of a loaded quiz document.
func (q Quiz) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: missing quiz id", ErrMalformedQuiz)
	}
	seen := make(map[string]struct{}, len(q.Items))
	for _, it := range q.Items {
		if it.ID == "" {
			return fmt.Errorf("%w: item without id", ErrMalformedQuiz)
		}
		if it.ID == MetaAnswerKey || it.ID == IdentityAnswerKey {
			return fmt.Errorf("%w: item id %q is reserved", ErrMalformedQuiz, it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: duplicate item id %q", ErrMalformedQuiz, it.ID)
		}
		seen[it.ID] = struct{}{}
		if !it.Type.valid() {
			return fmt.Errorf("%w: item %q has unknown type %q", ErrMalformedQuiz, it.ID, it.Type)
		}
		if it.T < 0 {
			return fmt.Errorf("%w: item %q has negative trigger time", ErrMalformedQuiz, it.ID)
		}
	}
	return nil
}

// ItemByID returns the item with the given id, if present.
func (q Quiz) ItemByID(id string) (Item, bool) {
	for i := range q.Items {
		if q.Items[i].ID == id {
			return q.Items[i], true
		}
	}
	return Item{}, false
}

// Answer is a viewer's response to a single item, tagged by item kind.
// Created on submit and never mutated afterwards.
type Answer struct {
	Kind     ItemType `json:"kind"`
	Selected []string `json:"selected,omitempty"` // mcq/checkbox/poll choice ids
	Text     string   `json:"text,omitempty"`     // fib/fr
	MaxLen   int      `json:"maxLen,omitempty"`   // limit applied to Text
}

// WatchMeta is the reserved "__meta" entry recorded alongside answers.
type WatchMeta struct {
	WatchSeconds float64 `json:"watchSeconds"`
	WatchPercent float64 `json:"watchPercent"`
}

// Reserved answer-map keys; never valid as item ids.
const (
	MetaAnswerKey     = "__meta"
	IdentityAnswerKey = "__identity"
)

// Attempt is the aggregate result posted to the attempt-storage collaborator.
type Attempt struct {
	Viewer    string                 `json:"viewer"`
	Points    float64                `json:"points"`
	MaxPoints float64                `json:"max_points"`
	Answers   map[string]interface{} `json:"answers"`
	Category  string                 `json:"category,omitempty"`
	Nonce     string                 `json:"nonce"`
}

var (
	controlCharRE = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	viewerRE      = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// SanitizeText strips control characters (keeping tab and newline) and clamps
// the result to limit characters.
func SanitizeText(s string, limit int) string {
	if limit < 1 {
		limit = 1
	}
	s = controlCharRE.ReplaceAllString(s, "")
	runes := []rune(s)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

// SanitizeViewer keeps alphanumerics, dot, underscore and hyphen, trimmed to
// 120 characters.
func SanitizeViewer(s string) string {
	return viewerRE.ReplaceAllString(SanitizeText(s, 120), "")
}
