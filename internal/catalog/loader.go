package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pot-code/course-progress/internal/domain"
	"github.com/pot-code/course-progress/internal/infrastructure/validate"
	"gopkg.in/yaml.v3"
)

// Format catalog encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format by file extension, json by default
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadFile read and validate a catalog file
func LoadFile(path string, v validate.Validator) (*Catalog, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer fd.Close()
	return Load(fd, FormatFromPath(path), v)
}

// Load decode and validate a catalog, v may be nil to use the default validator
func Load(r io.Reader, format Format, v validate.Validator) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	c := new(Catalog)
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(raw, c)
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		err = dec.Decode(c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidCatalog, format, err)
	}
	return New(c.Courses, v)
}

// New validate courses and build an indexed catalog
func New(courses []*Course, v validate.Validator) (*Catalog, error) {
	if v == nil {
		v = validate.NewValidator()
	}
	c := &Catalog{Courses: courses}
	if errs := v.Struct(c); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCatalog, validate.Join(errs))
	}
	if err := checkReferences(c); err != nil {
		return nil, err
	}
	for _, course := range c.Courses {
		if _, err := moduleOrder(course); err != nil {
			return nil, fmt.Errorf("%w: course %q: %v", domain.ErrInvalidCatalog, course.ID, err)
		}
	}
	c.index()
	return c, nil
}

func checkReferences(c *Catalog) error {
	courseSeen := make(map[string]bool, len(c.Courses))
	for _, course := range c.Courses {
		if courseSeen[course.ID] {
			return fmt.Errorf("%w: duplicate course id %q", domain.ErrInvalidCatalog, course.ID)
		}
		courseSeen[course.ID] = true

		moduleSeen := make(map[string]bool, len(course.Modules))
		lessonSeen := make(map[string]string)
		for _, m := range course.Modules {
			if moduleSeen[m.ID] {
				return fmt.Errorf("%w: course %q: duplicate module id %q", domain.ErrInvalidCatalog, course.ID, m.ID)
			}
			moduleSeen[m.ID] = true
			for _, l := range m.Lessons {
				if owner, ok := lessonSeen[l]; ok {
					return fmt.Errorf("%w: course %q: lesson %q declared in both %q and %q",
						domain.ErrInvalidCatalog, course.ID, l, owner, m.ID)
				}
				lessonSeen[l] = m.ID
			}
		}
		for _, m := range course.Modules {
			for _, p := range m.Prerequisites {
				if !moduleSeen[p] {
					return fmt.Errorf("%w: course %q: module %q requires unknown module %q",
						domain.ErrInvalidCatalog, course.ID, m.ID, p)
				}
			}
		}
	}
	return nil
}
