package oficio

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labforense/oficios/internal/domain/routing"
	"github.com/labforense/oficios/internal/platform/apperr"
	"github.com/labforense/oficios/internal/platform/auth"
	"github.com/labforense/oficios/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleIntake, auth.RoleExaminer))
	read.GET("/cases", h.ListCases)
	read.GET("/cases/:id", h.GetCase)
	read.GET("/examiners", h.ListExaminers)
	read.GET("/examiners/:id", h.GetExaminer)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/examiners", h.RegisterExaminer)
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cs, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)

	var f ListFilter
	if v := c.QueryParam("assigned_examiner_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid assigned_examiner_id")
		}
		f.AssignedExaminerID = id
	}
	if v := c.QueryParam("section"); v != "" {
		sec, err := routing.ParseSection(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Section = sec
	}

	cases, total, err := h.svc.ListCases(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cases, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) RegisterExaminer(c echo.Context) error {
	var e Examiner
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterExaminer(c.Request().Context(), &e); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetExaminer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetExaminer(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListExaminers(c echo.Context) error {
	pg := pagination.FromContext(c)

	var section routing.Section
	if v := c.QueryParam("section"); v != "" {
		sec, err := routing.ParseSection(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		section = sec
	}

	examiners, total, err := h.svc.ListExaminers(c.Request().Context(), section, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(examiners, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}
