package model

import "time"

// RunSummary reports the outcome of one ingestion run.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Generation int64     `json:"generation"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Facts int `json:"facts"`
	Units int `json:"units"`

	Nodes map[Kind]int     `json:"nodes"`
	Edges map[EdgeType]int `json:"edges"`

	Malformed  int `json:"malformed"`
	Unresolved int `json:"unresolved"`
	Conflicts  int `json:"conflicts"`
	Pruned     int `json:"pruned,omitempty"`

	Issues []Issue `json:"issues,omitempty"`
}

// NewRunSummary returns a summary with its count maps allocated.
func NewRunSummary(runID string, started time.Time) *RunSummary {
	return &RunSummary{
		RunID:     runID,
		StartedAt: started,
		Nodes:     make(map[Kind]int),
		Edges:     make(map[EdgeType]int),
	}
}

// AddIssue records an issue and bumps the matching counter.
func (s *RunSummary) AddIssue(is Issue) {
	switch is.Kind {
	case IssueMalformed:
		s.Malformed++
	case IssueUnresolved:
		s.Unresolved++
	case IssueConflict, IssueConstraint:
		s.Conflicts++
	}
	s.Issues = append(s.Issues, is)
}

// TotalNodes sums node counts over all kinds.
func (s *RunSummary) TotalNodes() int {
	n := 0
	for _, c := range s.Nodes {
		n += c
	}
	return n
}

// TotalEdges sums edge counts over all types.
func (s *RunSummary) TotalEdges() int {
	n := 0
	for _, c := range s.Edges {
		n += c
	}
	return n
}
