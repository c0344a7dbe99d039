package models

import "time"

// AnalysisPayload is the structured result the analysis service returns for
// one page of text.
type AnalysisPayload struct {
	Summary   string   `firestore:"summary" json:"summary"`
	Entities  []string `firestore:"entities,omitempty" json:"entities,omitempty"`
	KeyPoints []string `firestore:"keyPoints,omitempty" json:"keyPoints,omitempty"`
	Sentiment string   `firestore:"sentiment,omitempty" json:"sentiment,omitempty"`
}

// PageOutcome is a tagged result decided once at write time: either a
// successful analysis payload or an explicit failure marker. Readers branch
// on Succeeded instead of re-deriving the shape from the payload.
type PageOutcome struct {
	Succeeded bool             `firestore:"succeeded" json:"succeeded"`
	Analysis  *AnalysisPayload `firestore:"analysis,omitempty" json:"analysis,omitempty"`
	Failure   *FailureMarker   `firestore:"failure,omitempty" json:"failure,omitempty"`
}

// FailureMarker records why a page could not be analyzed. Pages are never
// silently dropped; an exhausted retry budget or a non-retryable error ends
// up here.
type FailureMarker struct {
	Reason   string    `firestore:"reason" json:"reason"`
	FailedAt time.Time `firestore:"failedAt" json:"failedAt"`
}

// SuccessOutcome wraps an analysis payload as a successful page outcome.
func SuccessOutcome(p *AnalysisPayload) PageOutcome {
	return PageOutcome{Succeeded: true, Analysis: p}
}

// FailureOutcome builds an explicit failure marker for a page.
func FailureOutcome(reason string, at time.Time) PageOutcome {
	return PageOutcome{Succeeded: false, Failure: &FailureMarker{Reason: reason, FailedAt: at}}
}
