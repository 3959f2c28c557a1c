package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-progress/internal/catalog"
	"github.com/pot-code/course-progress/internal/domain"
)

// CatalogHandler read-only catalog endpoints
type CatalogHandler struct {
	catalog *catalog.Catalog
}

// NewCatalogHandler .
func NewCatalogHandler(c *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

type courseSummary struct {
	ID                string             `json:"id"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	Difficulty        catalog.Difficulty `json:"difficulty,omitempty"`
	EstimatedDuration int                `json:"estimatedDuration,omitempty"`
	Modules           int                `json:"modules"`
	Lessons           int                `json:"lessons"`
}

// HandleListCourses GET /courses
func (ch *CatalogHandler) HandleListCourses(c echo.Context) error {
	out := make([]courseSummary, 0, len(ch.catalog.Courses))
	for _, course := range ch.catalog.Courses {
		out = append(out, courseSummary{
			ID:                course.ID,
			Title:             course.Title,
			Description:       course.Description,
			Difficulty:        course.Difficulty,
			EstimatedDuration: course.EstimatedDuration,
			Modules:           len(course.Modules),
			Lessons:           course.LessonCount(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleGetCourse GET /courses/:course
func (ch *CatalogHandler) HandleGetCourse(c echo.Context) error {
	id := c.Param("course")
	course := ch.catalog.Course(id)
	if course == nil {
		return domain.NewError(domain.KindCatalogMissing, id, domain.ErrCatalogMissing)
	}
	return c.JSON(http.StatusOK, course)
}
