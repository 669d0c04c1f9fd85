// Package guidederr formats the user-visible "Problem / Why / Next"
// error triad used for non-fatal, user-surfaced failures.
package guidederr

import "fmt"

// Guided is a structured error a human can act on without reading logs.
type Guided struct {
	Problem string
	Why     string
	Next    string
}

// Format renders the triad in the canonical three-line form.
func Format(problem, why, next string) string {
	return fmt.Sprintf("Problem: %s\nWhy: %s\nNext: %s", problem, why, next)
}

func (g Guided) Error() string {
	return Format(g.Problem, g.Why, g.Next)
}

// New builds a Guided error.
func New(problem, why, next string) Guided {
	return Guided{Problem: problem, Why: why, Next: next}
}
