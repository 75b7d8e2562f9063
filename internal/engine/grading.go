package engine

import (
	"math"
	"strings"

	"video-gate-service/internal/domain"
)

// Score is the graded outcome of a single item.
type Score struct {
	Points  float64
	Max     float64
	Correct bool // full credit
	Partial bool // some credit, not full
}

// ScoreItem grades one answer against its item. Pure and stateless.
// Unscorable types (fr, poll, pause) contribute nothing to points or max.
func ScoreItem(item domain.Item, ans domain.Answer) Score {
	switch item.Type {
	case domain.ItemMCQ:
		return scoreMCQ(item, ans)
	case domain.ItemCheckbox:
		return scoreCheckbox(item, ans)
	case domain.ItemFIB:
		return scoreFIB(item, ans)
	case domain.ItemFR, domain.ItemPoll, domain.ItemPause:
		return Score{}
	}
	return Score{}
}

// scoreMCQ awards full credit iff the selection exactly equals the correct
// set, order irrelevant.
func scoreMCQ(item domain.Item, ans domain.Answer) Score {
	s := Score{Max: 1}
	if len(ans.Selected) != len(item.Correct) || len(item.Correct) == 0 {
		return s
	}
	correct := toSet(item.Correct)
	for _, id := range ans.Selected {
		if _, ok := correct[id]; !ok {
			return s
		}
	}
	s.Points = 1
	s.Correct = true
	return s
}

// scoreCheckbox applies coarse three-tier partial credit: 1 for the exact
// correct set, 0.5 for any correct selection otherwise, 0 for none. Missing
// one correct and missing several score the same; this matches historical
// grading and must not be "improved".
func scoreCheckbox(item domain.Item, ans domain.Answer) Score {
	s := Score{Max: 1}
	correct := toSet(item.Correct)
	correctSel, wrongSel := 0, 0
	for _, id := range ans.Selected {
		if _, ok := correct[id]; ok {
			correctSel++
		} else {
			wrongSel++
		}
	}
	switch {
	case correctSel == len(correct) && wrongSel == 0 && len(correct) > 0:
		s.Points = 1
		s.Correct = true
	case correctSel > 0:
		s.Points = 0.5
		s.Partial = true
	}
	return s
}

// scoreFIB awards full credit iff the trimmed input matches any accepted
// string, case-insensitively unless the item demands case sensitivity.
func scoreFIB(item domain.Item, ans domain.Answer) Score {
	s := Score{Max: 1}
	got := strings.TrimSpace(ans.Text)
	for _, accept := range item.Accept {
		want := strings.TrimSpace(accept)
		if item.CaseSensitive {
			if got == want {
				s.Points = 1
				s.Correct = true
				return s
			}
		} else if strings.EqualFold(got, want) {
			s.Points = 1
			s.Correct = true
			return s
		}
	}
	return s
}

// Totals aggregates the session score. Every scorable item counts toward max
// whether or not it was answered.
func Totals(quiz domain.Quiz, answers map[string]domain.Answer) (points, max float64) {
	for _, item := range quiz.Items {
		if !item.Type.Scorable() {
			continue
		}
		max++
		if ans, ok := answers[item.ID]; ok {
			points += ScoreItem(item, ans).Points
		}
	}
	return points, max
}

// ScorePercent rounds points/max to two decimals, or 0 when max is zero.
func ScorePercent(points, max float64) float64 {
	if max == 0 {
		return 0
	}
	return math.Round(points/max*10000) / 100
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
