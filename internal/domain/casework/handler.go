package casework

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labforense/oficios/internal/domain/result"
	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/apperr"
	"github.com/labforense/oficios/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleIntake, auth.RoleExaminer))
	staff.GET("/cases/:id/next-step", h.NextStep)
	staff.GET("/cases/:id/tracking", h.History)
	staff.GET("/cases/:id/samples", h.Samples)
	staff.GET("/cases/:id/report", h.Report)
	staff.POST("/cases/:id/reassign", h.Reassign)

	intake := api.Group("", auth.RequireRole(auth.RoleIntake))
	intake.POST("/cases", h.OpenCase)

	examiner := api.Group("", auth.RequireRole(auth.RoleExaminer))
	examiner.POST("/cases/:id/extraction", h.RegisterExtraction)
	examiner.POST("/cases/:id/results", h.RegisterResult)
	examiner.POST("/cases/:id/consolidation", h.RegisterConsolidation)
}

func caseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// actor is the examiner id of the authenticated user.
func actor(c echo.Context) (uuid.UUID, error) {
	id, err := auth.ExaminerIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	return id, nil
}

type openCaseRequest struct {
	CaseNumber    string    `json:"case_number"`
	RequiredExams []string  `json:"required_exams"`
	ExaminerID    uuid.UUID `json:"examiner_id"`
	Requester     string    `json:"requester"`
	SubjectName   string    `json:"subject_name"`
	Notes         string    `json:"notes"`
}

func (h *Handler) OpenCase(c echo.Context) error {
	by, err := actor(c)
	if err != nil {
		return err
	}
	var req openCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in := OpenCaseInput{
		CaseNumber:  req.CaseNumber,
		ExaminerID:  req.ExaminerID,
		Requester:   req.Requester,
		SubjectName: req.SubjectName,
		Notes:       req.Notes,
	}
	for _, v := range req.RequiredExams {
		e, err := routing.ParseExamType(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.RequiredExams = append(in.RequiredExams, e)
	}

	cs, err := h.svc.OpenCase(c.Request().Context(), in, by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) NextStep(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	step, err := h.svc.DecideNextStep(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, step)
}

func (h *Handler) Reassign(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	by, err := actor(c)
	if err != nil {
		return err
	}
	var in ReassignInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Reassign(c.Request().Context(), id, in, by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) RegisterExtraction(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	by, err := actor(c)
	if err != nil {
		return err
	}
	var in ExtractionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.RegisterExtraction(c.Request().Context(), id, in, by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

type resultRequest struct {
	ResultInput
	ExamType string `json:"exam_type"`
}

func (h *Handler) RegisterResult(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	by, err := actor(c)
	if err != nil {
		return err
	}
	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exam, err := routing.ParseExamType(req.ExamType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in := req.ResultInput
	in.ExamType = exam
	for key, f := range in.Findings {
		in.Findings[key] = result.WithMarker(f)
	}

	out, err := h.svc.RegisterResult(c.Request().Context(), id, in, by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// RegisterConsolidation accepts JSON or a multipart form whose optional
// signed_report file is stored as the case's signed dictamen.
func (h *Handler) RegisterConsolidation(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	by, err := actor(c)
	if err != nil {
		return err
	}

	var in ConsolidationInput
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		in.PericialObject = c.FormValue("pericial_object")
		in.Method = c.FormValue("method")
		in.Notes = c.FormValue("notes")
		if v := c.FormValue("samples_exhausted"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid samples_exhausted")
			}
			in.SamplesExhausted = b
		}

		fh, err := c.FormFile("signed_report")
		if err != nil && !errors.Is(err, http.ErrMissingFile) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if fh != nil {
			f, err := fh.Open()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			defer f.Close()
			ct := fh.Header.Get(echo.HeaderContentType)
			if ct == "" {
				ct = "application/pdf"
			}
			in.Artifact = &Artifact{FileName: fh.Filename, ContentType: ct, Body: f}
		}
	} else if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	out, err := h.svc.RegisterConsolidation(c.Request().Context(), id, in, by)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) History(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	events, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) Samples(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	samples, err := h.svc.Samples(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, samples)
}

func (h *Handler) Report(c echo.Context) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Report(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}
