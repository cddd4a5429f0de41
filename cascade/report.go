package cascade

// Report is the caller-facing summary of a deletion: how many roots went
// away, plus the per-category breakdown.
type Report struct {
	Deleted int64  `json:"deleted"`
	Details Counts `json:"details"`

	// Failed maps IDs the RAGFlow API refused to delete to its message. Only
	// per-item API deletions fill it.
	Failed map[string]string `json:"failed,omitempty"`
}

// NewReport shapes counts for kind. A nil counts map yields an all-zero
// report with every category present.
func NewReport(kind Kind, counts Counts) Report {
	details := zeroCounts(kind)
	for k, v := range counts {
		details[k] = v
	}
	return Report{Deleted: details[rootCategory[kind]], Details: details}
}
