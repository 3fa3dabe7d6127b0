package notes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/genmed/genmed/internal/platform/aigateway"
	"github.com/genmed/genmed/internal/platform/auth"
	"github.com/genmed/genmed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the note endpoints on g (normally /notes). Note
// generation and prescriptions accept anonymous callers; history requires
// a user; the passthroughs take no auth at all.
func (h *Handler) RegisterRoutes(g *echo.Group, mw *auth.Middleware) {
	optional := g.Group("", mw.OptionalUser())
	optional.POST("/generate", h.Generate)
	optional.POST("/upload-audio", h.UploadAudio)
	optional.POST("/generate-prescription", h.GeneratePrescription)

	g.GET("/history", h.History, mw.RequireUser())

	g.POST("/ask", h.Ask)
	g.POST("/generate-discharge-summary", h.DischargeSummary)
	g.POST("/generate-referral-letter", h.ReferralLetter)
}

func caller(c echo.Context) auth.Caller {
	return auth.CallerFromContext(c.Request().Context())
}

func badBody() error {
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

func (h *Handler) Generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	resp, err := h.svc.GenerateNote(c.Request().Context(), caller(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// UploadAudio accepts multipart "file" plus "language" and "patient_name"
// as form fields or query parameters.
func (h *Handler) UploadAudio(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer f.Close()

	up := AudioUpload{
		Filename: fh.Filename,
		Content:  f,
		Language: formOrQuery(c, "language"),
	}
	if name := formOrQuery(c, "patient_name"); name != "" {
		up.PatientName = &name
	}

	resp, err := h.svc.GenerateFromAudio(c.Request().Context(), caller(c), up)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func formOrQuery(c echo.Context, name string) string {
	if v := strings.TrimSpace(c.FormValue(name)); v != "" {
		return v
	}
	return strings.TrimSpace(c.QueryParam(name))
}

func (h *Handler) GeneratePrescription(c echo.Context) error {
	var req PrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	resp, err := h.svc.GeneratePrescription(c.Request().Context(), caller(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) History(c echo.Context) error {
	resp, err := h.svc.GetHistory(c.Request().Context(), caller(c), pagination.FromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	resp, err := h.svc.Ask(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DischargeSummary(c echo.Context) error {
	var req DischargeRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	resp, err := h.svc.DischargeSummary(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ReferralLetter(c echo.Context) error {
	var req ReferralRequest
	if err := c.Bind(&req); err != nil {
		return badBody()
	}
	resp, err := h.svc.ReferralLetter(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
	case errors.Is(err, ErrUnsupportedAudio):
		return echo.NewHTTPError(http.StatusBadRequest, "Unsupported file format")
	case errors.Is(err, ErrNoSpeech):
		return echo.NewHTTPError(http.StatusBadRequest, "no speech detected in audio")
	case errors.Is(err, ErrAudioTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "audio file too large")
	case errors.Is(err, ErrAuthRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required to view history")
	case errors.Is(err, ErrTranscription):
		return echo.NewHTTPError(http.StatusBadGateway, "transcription service unavailable").SetInternal(err)
	case errors.Is(err, aigateway.ErrUpstream), errors.Is(err, aigateway.ErrMalformedOutput):
		return echo.NewHTTPError(http.StatusBadGateway, "AI service unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
