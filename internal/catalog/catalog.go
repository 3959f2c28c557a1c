// Package catalog holds the immutable structure of courses, modules and lessons.
//
// A Catalog is built once by Load or LoadFile and then shared read-only by
// every engine instance; nothing in it changes after construction.
package catalog

// Difficulty course difficulty level
type Difficulty string

const (
	Beginner     Difficulty = "beginner"
	Intermediate Difficulty = "intermediate"
	Advanced     Difficulty = "advanced"
)

// Course a course definition
type Course struct {
	ID                string     `json:"id" yaml:"id" validate:"required,ident"`
	Title             string     `json:"title" yaml:"title" validate:"required"`
	Description       string     `json:"description,omitempty" yaml:"description"`
	Difficulty        Difficulty `json:"difficulty,omitempty" yaml:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	EstimatedDuration int        `json:"estimatedDuration,omitempty" yaml:"estimatedDuration" validate:"gte=0"` // minutes
	Modules           []*Module  `json:"modules" yaml:"modules" validate:"required,min=1,dive,required"`

	modules map[string]*Module
	owners  map[string]LessonRef
	lessons []LessonRef
}

// Module a prerequisite-gated group of sequentially ordered lessons
type Module struct {
	ID            string   `json:"id" yaml:"id" validate:"required,ident"`
	Title         string   `json:"title" yaml:"title"`
	Lessons       []string `json:"lessons" yaml:"lessons" validate:"required,min=1,dive,required,ident"`
	Prerequisites []string `json:"prerequisites,omitempty" yaml:"prerequisites" validate:"dive,required,ident"`
}

// LessonRef locates a lesson inside its course
type LessonRef struct {
	CourseID string `json:"courseId"`
	ModuleID string `json:"moduleId"`
	LessonID string `json:"lessonId"`
	Index    int    `json:"index"`
}

// Catalog the set of known courses in declaration order
type Catalog struct {
	Courses []*Course `json:"courses" yaml:"courses" validate:"required,min=1,dive,required"`

	byID map[string]*Course
}

// Course returns the course with id, or nil
func (c *Catalog) Course(id string) *Course {
	if c == nil {
		return nil
	}
	return c.byID[id]
}

// Module returns the module with id, or nil
func (c *Course) Module(id string) *Module {
	return c.modules[id]
}

// Owner resolves the module owning lessonID
func (c *Course) Owner(lessonID string) (LessonRef, bool) {
	ref, ok := c.owners[lessonID]
	return ref, ok
}

// HasLesson reports whether lessonID belongs to the course
func (c *Course) HasLesson(lessonID string) bool {
	_, ok := c.owners[lessonID]
	return ok
}

// HasModule reports whether moduleID belongs to the course
func (c *Course) HasModule(moduleID string) bool {
	_, ok := c.modules[moduleID]
	return ok
}

// Lessons every lesson of the course in declaration order
func (c *Course) Lessons() []LessonRef {
	out := make([]LessonRef, len(c.lessons))
	copy(out, c.lessons)
	return out
}

// LessonCount .
func (c *Course) LessonCount() int {
	return len(c.lessons)
}

// FirstLesson the entry point of module m
func (m *Module) FirstLesson() string {
	if len(m.Lessons) == 0 {
		return ""
	}
	return m.Lessons[0]
}

// index fills the lookup tables, callers have already validated structure
func (c *Catalog) index() {
	c.byID = make(map[string]*Course, len(c.Courses))
	for _, course := range c.Courses {
		course.modules = make(map[string]*Module, len(course.Modules))
		course.owners = make(map[string]LessonRef)
		course.lessons = course.lessons[:0]
		for _, m := range course.Modules {
			course.modules[m.ID] = m
			for i, l := range m.Lessons {
				ref := LessonRef{CourseID: course.ID, ModuleID: m.ID, LessonID: l, Index: i}
				course.owners[l] = ref
				course.lessons = append(course.lessons, ref)
			}
		}
		c.byID[course.ID] = course
	}
}
