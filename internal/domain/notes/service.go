package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/genmed/genmed/internal/platform/aigateway"
	"github.com/genmed/genmed/internal/platform/auth"
	"github.com/genmed/genmed/internal/platform/blobstore"
	"github.com/genmed/genmed/internal/platform/middleware"
	"github.com/genmed/genmed/internal/platform/validation"
	"github.com/genmed/genmed/pkg/pagination"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrUnsupportedAudio = errors.New("unsupported audio format")
	ErrAudioTooLarge    = errors.New("audio file too large")
	ErrNoSpeech         = errors.New("no speech detected in audio")
	ErrTranscription    = errors.New("transcription failed")
	ErrAuthRequired     = errors.New("authentication required")
)

// AI is the text and speech generation the service depends on.
type AI interface {
	GenerateNote(ctx context.Context, transcription, language, patientName string) (*aigateway.NoteDraft, error)
	GeneratePrescription(ctx context.Context, diagnosis, language string) (string, error)
	Answer(ctx context.Context, question, language string) (string, error)
	DischargeSummary(ctx context.Context, diagnosis, treatment, followUp, language string) (string, error)
	ReferralLetter(ctx context.Context, symptoms, specialistType, reason, language string) (string, error)
	Transcribe(ctx context.Context, open aigateway.AudioOpener, contentType, language string) (string, error)
}

// NoteRecorder counts generated notes.
type NoteRecorder interface {
	NoteGenerated(critical bool)
}

type nopRecorder struct{}

func (nopRecorder) NoteGenerated(bool) {}

// audioTypes maps accepted upload extensions to the content type sent to
// the transcription provider.
var audioTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
	".aac": "audio/aac",
}

type Service struct {
	repo     Repository
	ai       AI
	audio    blobstore.Store
	recorder NoteRecorder
	logger   zerolog.Logger
}

func NewService(repo Repository, ai AI, audio blobstore.Store, recorder NoteRecorder, logger zerolog.Logger) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:     repo,
		ai:       ai,
		audio:    audio,
		recorder: recorder,
		logger:   logger.With().Str("component", "notes").Logger(),
	}
}

// persistTimeout bounds a note write that outlives the request deadline.
const persistTimeout = 5 * time.Second

// log returns the service logger tagged with the request id, if any.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	l := s.logger
	if rid := middleware.RequestIDFromContext(ctx); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return &l
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func invalid(err error) error {
	return fmt.Errorf("%w: %s", ErrValidation, err)
}

// GenerateNote produces a structured note for the transcription. AI
// failures degrade into an error note instead of failing the request.
// Authenticated callers get the note persisted; anonymous callers do not.
func (s *Service) GenerateNote(ctx context.Context, caller auth.Caller, req GenerateRequest) (*GenerateResponse, error) {
	req.Transcription = strings.TrimSpace(req.Transcription)
	if err := validation.Struct(req); err != nil {
		return nil, invalid(err)
	}
	language := orDefault(req.Language, DefaultLanguage)
	patientName := DefaultPatientName
	if req.PatientName != nil {
		patientName = orDefault(*req.PatientName, DefaultPatientName)
	}

	resp := &GenerateResponse{
		PatientName: patientName,
		IsCritical:  IsCritical(req.Transcription),
	}

	draft, err := s.ai.GenerateNote(ctx, req.Transcription, language, patientName)
	if err != nil {
		s.log(ctx).Warn().Err(err).Str("language", language).Msg("note generation degraded")
		resp.Note = errorNote(err)
	} else {
		resp.Note = draft.Note
		if draft.PatientName != "" {
			resp.PatientName = draft.PatientName
		}
	}
	s.recorder.NoteGenerated(resp.IsCritical)

	if p, ok := caller.Principal(); ok {
		email := p.Email
		n := &Note{
			UserEmail:     &email,
			PatientName:   resp.PatientName,
			Transcription: req.Transcription,
			Note:          resp.Note,
			Language:      language,
			IsCritical:    resp.IsCritical,
		}
		// a degraded note is still saved after the deadline cancelled generation
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.repo.Create(writeCtx, n); err != nil {
			s.log(ctx).Error().Err(err).Str("user_email", email).Msg("could not persist note")
			return nil, fmt.Errorf("persist note: %w", err)
		}
	}
	return resp, nil
}

func errorNote(err error) json.RawMessage {
	msg := "Failed to generate note: AI service unavailable"
	if errors.Is(err, aigateway.ErrMalformedOutput) {
		msg = "Unable to generate structured note due to invalid JSON response."
	}
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

// AudioUpload is an uploaded recording to turn into a note.
type AudioUpload struct {
	Filename    string
	Content     io.Reader
	Language    string
	PatientName *string
}

// AudioContentType returns the provider content type for filename, or
// ErrUnsupportedAudio.
func AudioContentType(filename string) (string, error) {
	ct, ok := audioTypes[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return "", ErrUnsupportedAudio
	}
	return ct, nil
}

// GenerateFromAudio stages the upload, transcribes it and generates a note
// from the transcript. The staged object is always removed.
func (s *Service) GenerateFromAudio(ctx context.Context, caller auth.Caller, up AudioUpload) (*GenerateResponse, error) {
	contentType, err := AudioContentType(up.Filename)
	if err != nil {
		return nil, err
	}
	language := orDefault(up.Language, DefaultLanguage)

	obj, err := s.audio.Put(ctx, contentType, up.Content)
	if errors.Is(err, blobstore.ErrTooLarge) {
		return nil, ErrAudioTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("stage audio: %w", err)
	}
	defer func() {
		if err := s.audio.Delete(context.WithoutCancel(ctx), obj.Key); err != nil {
			s.log(ctx).Warn().Err(err).Str("key", obj.Key).Msg("could not delete staged audio")
		}
	}()

	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.audio.Open(ctx, obj.Key)
	}
	transcript, err := s.ai.Transcribe(ctx, open, contentType, language)
	if err != nil {
		s.log(ctx).Error().Err(err).Str("key", obj.Key).Int64("size", obj.Size).Msg("transcription failed")
		return nil, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrNoSpeech
	}

	return s.GenerateNote(ctx, caller, GenerateRequest{
		Transcription: transcript,
		Language:      language,
		PatientName:   up.PatientName,
	})
}

// GeneratePrescription writes a prescription for the diagnosis and, for an
// authenticated caller, attaches it to their latest note.
func (s *Service) GeneratePrescription(ctx context.Context, caller auth.Caller, req PrescriptionRequest) (*PrescriptionResponse, error) {
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	if err := validation.Struct(req); err != nil {
		return nil, invalid(err)
	}
	language := orDefault(req.Language, DefaultLanguage)

	text, err := s.ai.GeneratePrescription(ctx, req.Diagnosis, language)
	if err != nil {
		return nil, err
	}

	if p, ok := caller.Principal(); ok {
		attached, err := s.repo.AttachPrescriptionToLatest(ctx, p.Email, req.Diagnosis, text)
		if err != nil {
			s.log(ctx).Error().Err(err).Str("user_email", p.Email).Msg("could not attach prescription")
			return nil, err
		}
		if !attached {
			s.log(ctx).Debug().Str("user_email", p.Email).Msg("no note to attach prescription to")
		}
	}
	return &PrescriptionResponse{Prescription: text}, nil
}

// GetHistory lists the caller's own notes, newest first. At most
// pagination.MaxLimit notes are returned; a non-positive limit means the
// maximum.
func (s *Service) GetHistory(ctx context.Context, caller auth.Caller, page pagination.Params) (*HistoryResponse, error) {
	p, ok := caller.Principal()
	if !ok {
		return nil, ErrAuthRequired
	}
	if page.Limit <= 0 || page.Limit > pagination.MaxLimit {
		page.Limit = pagination.MaxLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	notes, err := s.repo.ListByOwner(ctx, p.Email, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []*Note{}
	}
	return &HistoryResponse{History: notes}, nil
}

func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	req.Transcription = strings.TrimSpace(req.Transcription)
	if err := validation.Struct(req); err != nil {
		return nil, invalid(err)
	}
	answer, err := s.ai.Answer(ctx, req.Transcription, orDefault(req.Language, DefaultLanguage))
	if err != nil {
		return nil, err
	}
	return &AskResponse{Answer: answer}, nil
}

func (s *Service) DischargeSummary(ctx context.Context, req DischargeRequest) (*DischargeResponse, error) {
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	req.Treatment = strings.TrimSpace(req.Treatment)
	req.FollowUp = strings.TrimSpace(req.FollowUp)
	if err := validation.Struct(req); err != nil {
		return nil, invalid(err)
	}
	summary, err := s.ai.DischargeSummary(ctx, req.Diagnosis, req.Treatment, req.FollowUp, orDefault(req.Language, DefaultLanguage))
	if err != nil {
		return nil, err
	}
	return &DischargeResponse{DischargeSummary: summary}, nil
}

func (s *Service) ReferralLetter(ctx context.Context, req ReferralRequest) (*ReferralResponse, error) {
	req.Symptoms = strings.TrimSpace(req.Symptoms)
	req.SpecialistType = strings.TrimSpace(req.SpecialistType)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.Struct(req); err != nil {
		return nil, invalid(err)
	}
	letter, err := s.ai.ReferralLetter(ctx, req.Symptoms, req.SpecialistType, req.Reason, orDefault(req.Language, DefaultLanguage))
	if err != nil {
		return nil, err
	}
	return &ReferralResponse{ReferralLetter: letter}, nil
}
