package models

import "strings"

// Check is the verdict of one validation check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// ValidationOutcome aggregates all enabled checks for one candidate result.
type ValidationOutcome struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Reasons returns the reasons of the failed checks.
func (v ValidationOutcome) Reasons() []string {
	var out []string
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c.Name+": "+c.Reason)
		}
	}
	return out
}

func (v ValidationOutcome) String() string {
	if v.Passed {
		return "passed"
	}
	return strings.Join(v.Reasons(), "; ")
}
