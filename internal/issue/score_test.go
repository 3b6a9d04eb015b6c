package issue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacklau/autofix/internal/issue"
)

func complexity(file string, c int, rank string) issue.Issue {
	return issue.Issue{
		File: file,
		Line: 1,
		Kind: issue.Complexity{Function: "f", Complexity: c, Rank: rank, TargetComplexity: 10},
	}
}

func style(file, code string) issue.Issue {
	return issue.Issue{File: file, Line: 1, Kind: issue.Style{Code: code, Description: "d"}}
}

func TestScoreComplexity(t *testing.T) {
	var s issue.Scorer
	assert.Equal(t, 36.0, s.Score(complexity("b.py", 12, "C")))
	assert.Equal(t, 7.0, s.Score(complexity("b.py", 7, "Z")), "unknown rank weighs 1.0")
}

func TestScoreStyle(t *testing.T) {
	var s issue.Scorer
	tests := []struct {
		code string
		want float64
	}{
		{"F401", 30},
		{"E501", 20},
		{"W291", 10},
		{"C901", 10},
		{"", 10},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(style("a.py", tt.code)))
		})
	}
}

func TestScoreMaintainability(t *testing.T) {
	mi := issue.Issue{File: "c.py", Kind: issue.Maintainability{Score: 30, Rank: "B", TargetScore: 50}}

	assert.Zero(t, issue.Scorer{}.Score(mi), "unweighted by default")
	assert.Equal(t, 40.0, issue.Scorer{MaintainabilityWeight: 2}.Score(mi))

	healthy := issue.Issue{File: "c.py", Kind: issue.Maintainability{Score: 70, TargetScore: 50}}
	assert.Zero(t, issue.Scorer{MaintainabilityWeight: 2}.Score(healthy))
}

func TestScoreMonotonic(t *testing.T) {
	var s issue.Scorer
	ranks := []string{"A", "B", "C", "D", "E", "F"}
	for _, r := range ranks {
		prev := -1.0
		for c := 0; c <= 30; c++ {
			got := s.Score(complexity("x.py", c, r))
			assert.GreaterOrEqual(t, got, prev, "rank %s complexity %d", r, c)
			prev = got
		}
	}
	for c := 1; c <= 30; c++ {
		prev := -1.0
		for _, r := range ranks {
			got := s.Score(complexity("x.py", c, r))
			assert.Greater(t, got, prev, "complexity %d rank %s", c, r)
			prev = got
		}
	}

	w, e, f := s.Score(style("a", "W1")), s.Score(style("a", "E1")), s.Score(style("a", "F1"))
	assert.Less(t, w, e)
	assert.Less(t, e, f)
}

func TestSelectEmpty(t *testing.T) {
	_, ok := issue.Select(nil)
	assert.False(t, ok)
}

func TestSelectMaximal(t *testing.T) {
	issues := []issue.Issue{
		style("a.py", "W291"),
		complexity("b.py", 4, "A"),
		style("c.py", "F401"),
		complexity("d.py", 9, "B"),
		style("e.py", "E501"),
	}
	var s issue.Scorer
	got, ok := s.Select(issues)
	require.True(t, ok)
	for _, other := range issues {
		assert.GreaterOrEqual(t, s.Score(got), s.Score(other))
	}
	assert.Equal(t, "c.py", got.File)
}

func TestSelectTieBreakFirstWins(t *testing.T) {
	issues := []issue.Issue{
		style("first.py", "E501"),
		complexity("second.py", 10, "B"),
		style("third.py", "E111"),
	}
	got, ok := issue.Select(issues)
	require.True(t, ok)
	assert.Equal(t, "first.py", got.File)
}

func TestSelectAllZero(t *testing.T) {
	issues := []issue.Issue{
		complexity("a.py", 0, "A"),
		complexity("b.py", 0, "F"),
	}
	got, ok := issue.Select(issues)
	require.True(t, ok)
	assert.Equal(t, "a.py", got.File)
}

func TestSelectComplexityOverStyle(t *testing.T) {
	issues := []issue.Issue{
		style("a.py", "F401"),
		complexity("b.py", 12, "C"),
	}
	got, ok := issue.Select(issues)
	require.True(t, ok)
	assert.Equal(t, "b.py", got.File)
}

func TestRankStable(t *testing.T) {
	issues := []issue.Issue{
		style("a.py", "W1"),
		style("b.py", "F1"),
		style("c.py", "W2"),
		style("d.py", "F2"),
	}
	ranked := issue.Scorer{}.Rank(issues)
	var files []string
	for _, r := range ranked {
		files = append(files, r.Issue.File)
	}
	assert.Equal(t, []string{"b.py", "d.py", "a.py", "c.py"}, files)
}
