package resource

// OutcomeStatus is the terminal state of a remediation attempt.
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusFailed    OutcomeStatus = "failed"
	// StatusSkipped is reported for every candidate in a dry run.
	StatusSkipped OutcomeStatus = "skipped"
	// StatusProtected means a protection policy blocked the call.
	StatusProtected OutcomeStatus = "protected"
)

// Outcome records what happened to one remediation candidate.
type Outcome struct {
	ResourceID  string        `json:"resource_id" yaml:"resource_id"`
	Kind        Kind          `json:"kind" yaml:"kind"`
	Key         string        `json:"key" yaml:"key"`
	Action      string        `json:"action,omitempty" yaml:"action,omitempty"`
	Status      OutcomeStatus `json:"status" yaml:"status"`
	ErrorDetail string        `json:"error_detail,omitempty" yaml:"error_detail,omitempty"` // verbatim provider error, set iff failed
	Reason      string        `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// OutcomeSummary counts outcomes per status.
type OutcomeSummary struct {
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`
	Protected int `json:"protected" yaml:"protected"`
}

// Total returns the number of outcomes summarized.
func (s OutcomeSummary) Total() int {
	return s.Succeeded + s.Failed + s.Skipped + s.Protected
}

// SummarizeOutcomes counts outcomes per classification key.
func SummarizeOutcomes(outcomes []Outcome) map[string]OutcomeSummary {
	summary := make(map[string]OutcomeSummary)
	for _, o := range outcomes {
		s := summary[o.Key]
		switch o.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusProtected:
			s.Protected++
		}
		summary[o.Key] = s
	}
	return summary
}
