package models

import "time"

// CorrectionType classifies a detected learner mistake.
type CorrectionType string

const (
	CorrectionGrammar       CorrectionType = "grammar"
	CorrectionVocabulary    CorrectionType = "vocabulary"
	CorrectionPronunciation CorrectionType = "pronunciation"
	CorrectionStyleRegister CorrectionType = "style_register"
)

// ValidCorrectionType reports whether t is one of the enumerated correction types.
func ValidCorrectionType(t string) bool {
	switch CorrectionType(t) {
	case CorrectionGrammar, CorrectionVocabulary, CorrectionPronunciation, CorrectionStyleRegister:
		return true
	}
	return false
}

// CorrectionStatus tracks the verification lifecycle.
// Transitions are monotonic: detected -> verifying -> verified | failed.
type CorrectionStatus string

const (
	CorrectionDetected  CorrectionStatus = "detected"
	CorrectionVerifying CorrectionStatus = "verifying"
	CorrectionVerified  CorrectionStatus = "verified"
	CorrectionFailed    CorrectionStatus = "failed"
)

// UserFeedback is the learner's reaction to a correction. It is independent
// of the verification status and settable at any post-detected state.
type UserFeedback string

const (
	FeedbackAgree    UserFeedback = "agree"
	FeedbackDisagree UserFeedback = "disagree"
)

// Correction is a detected learner mistake with its verification state.
type Correction struct {
	ID             string           `json:"id"`
	Original       string           `json:"original"`
	Corrected      string           `json:"corrected"`
	CorrectionType CorrectionType   `json:"correctionType"`
	Status         CorrectionStatus `json:"status"`
	Rule           string           `json:"rule,omitempty"`
	Confidence     float64          `json:"confidence,omitempty"`
	IsAmbiguous    bool             `json:"isAmbiguous,omitempty"`
	VerifiedAt     *time.Time       `json:"verifiedAt,omitempty"`
	UserFeedback   UserFeedback     `json:"userFeedback,omitempty"`
}
