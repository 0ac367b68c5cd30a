package model

import "time"

type VerificationStatus string

const (
	VerificationInitiated   VerificationStatus = "initiated"
	VerificationPending     VerificationStatus = "pending"
	VerificationUnderReview VerificationStatus = "under_review"
	VerificationVerified    VerificationStatus = "verified"
	VerificationRejected    VerificationStatus = "rejected"
)

// Verification is the adjudication record for a reported win.
type Verification struct {
	ID                 string             `json:"id"`
	EntryID            string             `json:"entry_id"`
	Status             VerificationStatus `json:"status"`
	EvidenceCapturedAt *time.Time         `json:"evidence_captured_at"`
	WitnessConfirmedAt *time.Time         `json:"witness_confirmed_at"`
	SelfieURL          string             `json:"selfie_url"`
	IDDocumentURL      string             `json:"id_document_url"`
	ReviewedBy         *int64             `json:"reviewed_by"`
	DecisionNote       string             `json:"decision_note"`
	DecidedAt          *time.Time         `json:"decided_at"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// WitnessConfirmation grants a third party the ability to confirm a claim.
type WitnessConfirmation struct {
	ID             string     `json:"id"`
	VerificationID string     `json:"verification_id"`
	TokenHash      string     `json:"-"`
	WitnessName    string     `json:"witness_name"`
	WitnessEmail   string     `json:"witness_email"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at"`
	UserAgent      string     `json:"user_agent"`
	Origin         string     `json:"origin"`
}
