package ranking

import "slices"

// ETAConstant is the reference ETA in minutes the ETA term is measured
// against. The term is not clamped: routes slower than this score negatively
// on ETA.
const ETAConstant = 200.0

// Scored pairs a route with its score under one profile.
type Scored struct {
	Route Route   `json:"route"`
	Score float64 `json:"score"`
}

// Score computes the weighted score of r under p. Higher is better.
func Score(r Route, p Profile) float64 {
	w := p.Weights
	return (ETAConstant-float64(r.ETAMinutes))*w.ETA +
		float64(r.ActivityScore)*10*w.Activity +
		float64(r.LightingScore)*10*w.Lighting
}

// Rank returns routes ordered best first under p. The sort is stable, so
// routes with equal scores keep their input order. The input is not modified.
func Rank(routes []Route, p Profile) []Route {
	scored := RankWithScores(routes, p)
	ranked := make([]Route, len(scored))
	for i, s := range scored {
		ranked[i] = s.Route
	}
	return ranked
}

// RankWithScores is Rank that also reports each route's score.
func RankWithScores(routes []Route, p Profile) []Scored {
	scored := make([]Scored, len(routes))
	for i, r := range routes {
		scored[i] = Scored{Route: r, Score: Score(r, p)}
	}

	slices.SortStableFunc(scored, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	return scored
}
