package notes

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLanguage    = "en"
	DefaultPatientName = "Patient"
)

// Note is a generated clinical note. UserEmail is nil for anonymous notes,
// which are never listed.
type Note struct {
	ID            uuid.UUID       `json:"id"`
	UserEmail     *string         `json:"user_email,omitempty"`
	PatientName   string          `json:"patient_name"`
	Transcription string          `json:"transcription"`
	Note          json.RawMessage `json:"note"`
	Language      string          `json:"language"`
	IsCritical    bool            `json:"is_critical"`
	Diagnosis     *string         `json:"diagnosis,omitempty"`
	Prescription  *string         `json:"prescription,omitempty"`
	CreatedAt     time.Time       `json:"timestamp"`
}

type GenerateRequest struct {
	Transcription string  `json:"transcription" validate:"required"`
	Language      string  `json:"language"`
	PatientName   *string `json:"patient_name"`
}

type GenerateResponse struct {
	PatientName string          `json:"patient_name"`
	Note        json.RawMessage `json:"note"`
	IsCritical  bool            `json:"is_critical"`
}

type PrescriptionRequest struct {
	Diagnosis string `json:"diagnosis" validate:"required"`
	Language  string `json:"language"`
}

type PrescriptionResponse struct {
	Prescription string `json:"prescription"`
}

type HistoryResponse struct {
	History []*Note `json:"history"`
}

type AskRequest struct {
	Transcription string `json:"transcription" validate:"required"`
	Language      string `json:"language"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

type DischargeRequest struct {
	Diagnosis string `json:"diagnosis" validate:"required"`
	Treatment string `json:"treatment" validate:"required"`
	FollowUp  string `json:"follow_up" validate:"required"`
	Language  string `json:"language"`
}

type DischargeResponse struct {
	DischargeSummary string `json:"discharge_summary"`
}

type ReferralRequest struct {
	Symptoms       string `json:"symptoms" validate:"required"`
	SpecialistType string `json:"specialist_type" validate:"required"`
	Reason         string `json:"reason" validate:"required"`
	Language       string `json:"language"`
}

type ReferralResponse struct {
	ReferralLetter string `json:"referral_letter"`
}
