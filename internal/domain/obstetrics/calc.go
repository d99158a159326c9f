package obstetrics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prenatal/prenatal/internal/domain/anthropometry"
	"github.com/prenatal/prenatal/internal/domain/dating"
	"github.com/prenatal/prenatal/internal/domain/labs"
	"github.com/prenatal/prenatal/internal/domain/schedule"
	"github.com/prenatal/prenatal/internal/platform/auth"
	"github.com/prenatal/prenatal/pkg/calendar"
)

// CalcHandler exposes the engine without storage. It is mounted even when
// no database is configured.
type CalcHandler struct {
	protocol   *schedule.Protocol
	classifier *labs.Classifier
	loc        *time.Location
}

func NewCalcHandler(protocol *schedule.Protocol, classifier *labs.Classifier, loc *time.Location) *CalcHandler {
	if protocol == nil {
		protocol = schedule.DefaultProtocol()
	}
	if classifier == nil {
		classifier = labs.NewClassifier(nil)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalcHandler{protocol: protocol, classifier: classifier, loc: loc}
}

func (h *CalcHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/calc", auth.RequireRole(auth.RoleObstetrician, auth.RoleNurse, auth.RoleReception))
	g.POST("/dating", h.Dating)
	g.POST("/discrepancy", h.Discrepancy)
	g.POST("/anthropometry", h.Anthropometry)
	g.POST("/milestones", h.Milestones)
	g.POST("/visits", h.Visits)
	g.POST("/labs/classify", h.Classify)
	g.GET("/labs/analytes", h.Analytes)
}

type datingRequest struct {
	dating.RawInput
	ReferenceDate calendar.Date `json:"reference_date"`
}

func (h *CalcHandler) bindDating(c echo.Context) (datingRequest, error) {
	var req datingRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ReferenceDate.IsZero() {
		req.ReferenceDate = calendar.Today(h.loc)
	}
	return req, nil
}

// Dating returns both methods, the preferred estimate, the trimester and the
// discrepancy check. Malformed fields invalidate only their own method.
func (h *CalcHandler) Dating(c echo.Context) error {
	req, err := h.bindDating(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dating.SummarizeRaw(req.RawInput, req.ReferenceDate))
}

func (h *CalcHandler) Discrepancy(c echo.Context) error {
	req, err := h.bindDating(c)
	if err != nil {
		return err
	}
	in, perr := dating.ParseInput(req.RawInput)
	if perr.LMP != nil {
		return httpError(perr.LMP)
	}
	if perr.Ultrasound != nil {
		return httpError(perr.Ultrasound)
	}
	alert, ok := dating.CheckDiscrepancy(in)
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{"available": false})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"available":       true,
		"show":            alert.Show,
		"difference_days": alert.DifferenceDays,
		"tolerance_days":  dating.DiscrepancyToleranceDays,
	})
}

func (h *CalcHandler) Anthropometry(c echo.Context) error {
	var m anthropometry.Measurements
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, anthropometry.Validate(m))
}

type milestonesRequest struct {
	DueDate calendar.Date `json:"due_date"`
}

func (h *CalcHandler) Milestones(c echo.Context) error {
	var req milestonesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ms, err := h.protocol.Milestones(req.DueDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conception_date": schedule.ConceptionDate(req.DueDate),
		"data":            ms,
	})
}

type visitsRequest struct {
	DueDate        calendar.Date `json:"due_date"`
	FirstVisitDate calendar.Date `json:"first_visit_date"`
	TargetWeeks    []int         `json:"target_weeks"`
}

func (h *CalcHandler) Visits(c echo.Context) error {
	var req visitsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	protocol := h.protocol
	if len(req.TargetWeeks) > 0 {
		var err error
		if protocol, err = protocol.WithTargetWeeks(req.TargetWeeks); err != nil {
			return httpError(err)
		}
	}
	visits, err := protocol.Visits(req.DueDate, req.FirstVisitDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"protocol_version": protocol.Version,
		"data":             visits,
	})
}

type classifyRequest struct {
	labs.Measurement
	Trimester dating.Trimester   `json:"trimester"`
	Results   []labs.Measurement `json:"results"`
}

// Classify accepts either one analyte/value pair or a results batch. A
// missing rule, blank value or trimester outside 1..3 yields normal.
func (h *CalcHandler) Classify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	version := h.classifier.Table().Version
	if len(req.Results) > 0 {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"table_version": version,
			"data":          h.classifier.ClassifyAll(req.Results, req.Trimester),
		})
	}
	if req.Analyte == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "analyte or results is required")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"table_version": version,
		"data": labs.Classified{
			Measurement: req.Measurement,
			Result:      h.classifier.Classify(req.Analyte, req.Value, req.Trimester),
		},
	})
}

func (h *CalcHandler) Analytes(c echo.Context) error {
	t := h.classifier.Table()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"version": t.Version,
		"source":  t.Source,
		"data":    t.Analytes(),
	})
}
