package issue

import (
	"fmt"
	"math"
	"sort"
)

// rankWeights maps radon letter grades to multipliers.
var rankWeights = map[string]float64{
	"A": 1.0,
	"B": 2.0,
	"C": 3.0,
	"D": 4.0,
	"E": 5.0,
	"F": 6.0,
}

// severityWeights maps the first letter of a flake8 code to its severity.
// F is pyflakes (logic errors), E is pycodestyle errors, W is warnings.
var severityWeights = map[byte]float64{
	'F': 3.0,
	'E': 2.0,
	'W': 1.0,
}

// RankWeight returns the multiplier for a letter grade, 1.0 when unknown.
func RankWeight(rank string) float64 {
	if w, ok := rankWeights[rank]; ok {
		return w
	}
	return 1.0
}

// SeverityWeight returns the weight for a lint code, 1.0 when unknown or empty.
func SeverityWeight(code string) float64 {
	if code == "" {
		return 1.0
	}
	if w, ok := severityWeights[code[0]]; ok {
		return w
	}
	return 1.0
}

// Scorer assigns priorities to issues. The zero value leaves maintainability
// issues unweighted.
type Scorer struct {
	// MaintainabilityWeight multiplies the gap between the target and actual
	// maintainability index. Zero scores every maintainability issue as 0.
	MaintainabilityWeight float64
}

// Score returns a non-negative priority; higher is more urgent.
func (s Scorer) Score(i Issue) float64 {
	switch k := i.Kind.(type) {
	case Complexity:
		return math.Max(0, float64(k.Complexity)*RankWeight(k.Rank))
	case Style:
		return 10.0 * SeverityWeight(k.Code)
	case Maintainability:
		gap := k.TargetScore - k.Score
		if gap <= 0 || s.MaintainabilityWeight <= 0 {
			return 0
		}
		return s.MaintainabilityWeight * gap
	default:
		panic(fmt.Sprintf("issue: unscorable kind %T", i.Kind))
	}
}

// Scored pairs an issue with its computed priority.
type Scored struct {
	Issue Issue
	Score float64
}

// Rank scores every issue and orders them by descending score. Equal scores
// keep their input order.
func (s Scorer) Rank(issues []Issue) []Scored {
	scored := make([]Scored, len(issues))
	for i, is := range issues {
		scored[i] = Scored{Issue: is, Score: s.Score(is)}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	return scored
}

// Select returns the single highest-scoring issue. Ties go to the issue that
// appears first. It reports false when issues is empty.
func (s Scorer) Select(issues []Issue) (Issue, bool) {
	if len(issues) == 0 {
		return Issue{}, false
	}
	return s.Rank(issues)[0].Issue, true
}

// Select picks from issues using the default scorer.
func Select(issues []Issue) (Issue, bool) {
	return Scorer{}.Select(issues)
}
