package notes

import (
	"net/http"

	"github.com/genmed/genmed/internal/platform/openapi"
)

// Operations documents the routes RegisterRoutes mounts under prefix.
func (h *Handler) Operations(prefix string) []openapi.Operation {
	languageField := openapi.Param{Name: "language", Description: "ISO language code, default en"}
	patientField := openapi.Param{Name: "patient_name", Description: "Patient name, default Patient"}

	return []openapi.Operation{
		{
			Method: http.MethodPost, Path: prefix + "/generate", Tag: "notes", Auth: openapi.AuthOptional,
			Summary:  "Generate a structured clinical note from a transcription",
			Request:  GenerateRequest{},
			Response: GenerateResponse{},
			Errors:   []int{http.StatusBadRequest},
		},
		{
			Method: http.MethodPost, Path: prefix + "/upload-audio", Tag: "notes", Auth: openapi.AuthOptional,
			Summary: "Transcribe an audio recording and generate a note",
			Form: []openapi.Param{
				{Name: "file", Required: true, Type: "binary", Description: ".mp3, .wav, .m4a or .aac"},
				languageField,
				patientField,
			},
			Query:    []openapi.Param{languageField, patientField},
			Response: GenerateResponse{},
			Errors:   []int{http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusBadGateway},
		},
		{
			Method: http.MethodPost, Path: prefix + "/generate-prescription", Tag: "notes", Auth: openapi.AuthOptional,
			Summary:  "Generate a prescription and attach it to the caller's latest note",
			Request:  PrescriptionRequest{},
			Response: PrescriptionResponse{},
			Errors:   []int{http.StatusBadRequest, http.StatusBadGateway},
		},
		{
			Method: http.MethodGet, Path: prefix + "/history", Tag: "notes", Auth: openapi.AuthRequired,
			Summary: "List the caller's notes, newest first",
			Query: []openapi.Param{
				{Name: "limit", Type: "integer", Description: "Page size, at most 50"},
				{Name: "offset", Type: "integer", Description: "Notes to skip"},
			},
			Response: HistoryResponse{},
			Errors:   []int{http.StatusUnauthorized},
		},
		{
			Method: http.MethodPost, Path: prefix + "/ask", Tag: "assistant",
			Summary:  "Answer a medical question",
			Request:  AskRequest{},
			Response: AskResponse{},
			Errors:   []int{http.StatusBadRequest, http.StatusBadGateway},
		},
		{
			Method: http.MethodPost, Path: prefix + "/generate-discharge-summary", Tag: "assistant",
			Summary:  "Write a discharge summary",
			Request:  DischargeRequest{},
			Response: DischargeResponse{},
			Errors:   []int{http.StatusBadRequest, http.StatusBadGateway},
		},
		{
			Method: http.MethodPost, Path: prefix + "/generate-referral-letter", Tag: "assistant",
			Summary:  "Write a referral letter to a specialist",
			Request:  ReferralRequest{},
			Response: ReferralResponse{},
			Errors:   []int{http.StatusBadRequest, http.StatusBadGateway},
		},
	}
}
