package obstetrics

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/prenatal/prenatal/internal/domain/labs"
	"github.com/prenatal/prenatal/internal/platform/auth"
	"github.com/prenatal/prenatal/pkg/apperror"
	"github.com/prenatal/prenatal/pkg/calendar"
	"github.com/prenatal/prenatal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Reads and visit bookkeeping – clinical roles and reception
	staffGroup := api.Group("", auth.RequireRole(auth.RoleObstetrician, auth.RoleNurse, auth.RoleReception))
	staffGroup.GET("/pregnancies", h.ListPregnancies)
	staffGroup.GET("/pregnancies/:id", h.GetPregnancy)
	staffGroup.GET("/pregnancies/:id/dating", h.GetDating)
	staffGroup.GET("/pregnancies/:id/milestones", h.GetMilestones)
	staffGroup.GET("/pregnancies/:id/visits", h.ListVisits)
	staffGroup.GET("/visits/:id", h.GetVisit)
	staffGroup.PATCH("/visits/:id/status", h.UpdateVisitStatus)
	staffGroup.PUT("/visits/:id/reschedule", h.RescheduleVisit)

	// Clinical writes – obstetrician, nurse
	writeGroup := api.Group("", auth.RequireRole(auth.RoleObstetrician, auth.RoleNurse))
	writeGroup.POST("/pregnancies", h.CreatePregnancy)
	writeGroup.PUT("/pregnancies/:id", h.UpdatePregnancy)
	writeGroup.POST("/pregnancies/:id/visit-schedule", h.GenerateSchedule)
	writeGroup.POST("/pregnancies/:id/labs/classify", h.ClassifyLabs)

	api.DELETE("/pregnancies/:id", h.DeletePregnancy, auth.RequireRole(auth.RoleObstetrician))
}

// httpError maps service errors to HTTP errors. Internal failures are not
// echoed to the client.
func httpError(err error) error {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func dateQuery(c echo.Context, name string) (calendar.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(raw)
	if err != nil {
		return calendar.Date{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return d, nil
}

// -- Pregnancy Handlers --

func (h *Handler) CreatePregnancy(c echo.Context) error {
	var req PregnancyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreatePregnancy(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPregnancy(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPregnancy(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPregnancies(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	var (
		items []*Pregnancy
		total int
		err   error
	)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, perr := uuid.Parse(patientID)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err = h.svc.ListPregnanciesByPatient(ctx, pid, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListPregnancies(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) UpdatePregnancy(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req PregnancyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdatePregnancy(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePregnancy(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePregnancy(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Dating and milestones --

func (h *Handler) GetDating(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	ref, err := dateQuery(c, "reference_date")
	if err != nil {
		return err
	}
	v, err := h.svc.Dating(c.Request().Context(), id, ref)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetMilestones(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	ms, err := h.svc.Milestones(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": ms})
}

// -- Visit Handlers --

func (h *Handler) GenerateSchedule(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	visits, err := h.svc.GenerateSchedule(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"protocol_version": h.svc.Protocol().Version,
		"data":             visits,
	})
}

func (h *Handler) ListVisits(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVisits(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateVisitStatus(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var body struct {
		Status VisitStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.UpdateVisitStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RescheduleVisit(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var body struct {
		Date calendar.Date `json:"date"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.RescheduleVisit(c.Request().Context(), id, body.Date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Labs --

type labPanelRequest struct {
	CollectedOn calendar.Date      `json:"collected_on"`
	Results     []labs.Measurement `json:"results"`
}

func (h *Handler) ClassifyLabs(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req labPanelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Results) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "results are required")
	}
	tri, classified, err := h.svc.ClassifyLabs(c.Request().Context(), id, req.CollectedOn, req.Results)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"trimester":     tri,
		"table_version": h.svc.Classifier().Table().Version,
		"data":          classified,
	})
}
