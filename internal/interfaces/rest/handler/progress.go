package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/engine"
	"github.com/pot-code/course-progress/internal/infrastructure/validate"
	"github.com/pot-code/course-progress/internal/integrity"
	"github.com/pot-code/course-progress/internal/progress"
	"github.com/pot-code/course-progress/internal/recommend"
)

// ProgressHandler learner progress endpoints
type ProgressHandler struct {
	registry  *engine.Registry
	validator validate.Validator
}

// NewProgressHandler .
func NewProgressHandler(registry *engine.Registry, validator validate.Validator) *ProgressHandler {
	return &ProgressHandler{registry: registry, validator: validator}
}

type completeLessonRequest struct {
	Score int `json:"score" validate:"gte=0"`
}

type recommendationRequest struct {
	Signals []recommend.Signal `json:"signals" validate:"dive"`
}

type progressResponse struct {
	Progress *progress.Record    `json:"progress"`
	Unlocked []catalog.LessonRef `json:"unlocked"`
	Next     *catalog.LessonRef  `json:"next"`
	Degraded bool                `json:"degraded"`
}

type recordResponse struct {
	Progress *progress.Record `json:"progress"`
	Warning  *domain.Warning  `json:"warning,omitempty"`
}

type repairResponse struct {
	Report  *integrity.Report `json:"report"`
	Warning *domain.Warning   `json:"warning,omitempty"`
}

// validateLearner check the :learner path param
func validateLearner(v validate.Validator, c echo.Context) error {
	if errs := v.Var("learner", c.Param("learner"), "required,ident"); len(errs) > 0 {
		return NewRESTValidationError(http.StatusBadRequest, "Failed to validate params", errs)
	}
	return nil
}

// learnerEngine resolve the engine of the :learner path param
func (ph *ProgressHandler) learnerEngine(c echo.Context) (*engine.Engine, error) {
	if err := validateLearner(ph.validator, c); err != nil {
		return nil, err
	}
	return ph.registry.Engine(c.Request().Context(), c.Param("learner"))
}

// HandleSelectCourse POST /learners/:learner/courses/:course/select
func (ph *ProgressHandler) HandleSelectCourse(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	rec, warn, err := e.SelectCourse(c.Request().Context(), c.Param("course"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recordResponse{Progress: rec, Warning: warn})
}

// HandleGetProgress GET /learners/:learner/courses/:course/progress
func (ph *ProgressHandler) HandleGetProgress(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	ctx, course := c.Request().Context(), c.Param("course")
	rec, err := e.GetCourseProgress(ctx, course)
	if err != nil {
		return err
	}
	unlocked, err := e.UnlockedLessons(ctx, course)
	if err != nil {
		return err
	}
	next, err := e.GetNextLesson(ctx, course)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progressResponse{Progress: rec, Unlocked: unlocked, Next: next, Degraded: e.Degraded()})
}

// HandleCompleteLesson POST /learners/:learner/courses/:course/lessons/:lesson/complete
func (ph *ProgressHandler) HandleCompleteLesson(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	req := new(completeLessonRequest)
	if c.Request().ContentLength != 0 {
		if err := c.Bind(req); err != nil {
			return err
		}
	}
	if errs := ph.validator.Struct(req); len(errs) > 0 {
		return NewRESTValidationError(http.StatusBadRequest, "Failed to validate body", errs)
	}
	result, err := e.MarkLessonCompleted(c.Request().Context(), c.Param("course"), c.Param("lesson"), req.Score)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// HandleIsLessonUnlocked GET /learners/:learner/courses/:course/lessons/:lesson/unlocked
func (ph *ProgressHandler) HandleIsLessonUnlocked(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	unlocked, err := e.IsLessonUnlocked(c.Request().Context(), c.Param("course"), c.Param("lesson"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"unlocked": unlocked})
}

// HandleNextLesson GET /learners/:learner/courses/:course/next
func (ph *ProgressHandler) HandleNextLesson(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	next, err := e.GetNextLesson(c.Request().Context(), c.Param("course"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]*catalog.LessonRef{"next": next})
}

// HandleValidateIntegrity GET /learners/:learner/courses/:course/integrity
func (ph *ProgressHandler) HandleValidateIntegrity(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	issues, err := e.ValidateIntegrity(c.Request().Context(), c.Param("course"))
	if err != nil {
		return err
	}
	if issues == nil {
		issues = []integrity.Issue{}
	}
	return c.JSON(http.StatusOK, map[string][]integrity.Issue{"issues": issues})
}

// HandleRepair POST /learners/:learner/courses/:course/repair
func (ph *ProgressHandler) HandleRepair(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	report, warn, err := e.Repair(c.Request().Context(), c.Param("course"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, repairResponse{Report: report, Warning: warn})
}

// HandleRecommend POST /learners/:learner/courses/:course/recommendation
func (ph *ProgressHandler) HandleRecommend(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	req := new(recommendationRequest)
	if err := c.Bind(req); err != nil {
		return err
	}
	if errs := ph.validator.Struct(req); len(errs) > 0 {
		return NewRESTValidationError(http.StatusBadRequest, "Failed to validate body", errs)
	}
	got, err := e.Recommend(c.Request().Context(), c.Param("course"), req.Signals)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, got)
}

// HandleResetProgress DELETE /learners/:learner/progress?course=a&course=b, every course when none given
func (ph *ProgressHandler) HandleResetProgress(c echo.Context) error {
	e, err := ph.learnerEngine(c)
	if err != nil {
		return err
	}
	warn, err := e.ResetProgress(c.Request().Context(), c.QueryParams()["course"]...)
	if err != nil {
		return err
	}
	if warn != nil {
		return c.JSON(http.StatusOK, map[string]*domain.Warning{"warning": warn})
	}
	return c.NoContent(http.StatusNoContent)
}
