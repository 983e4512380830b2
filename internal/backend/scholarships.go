package backend

import (
	"context"
	"net/url"
	"strconv"

	"github.com/and161185/nomadrise/internal/model"
)

// Scholarships adds filtered listing to the generic resource.
type Scholarships struct {
	*Resource[model.Scholarship]
}

// List returns scholarships matching f. Unset filter fields are not sent.
func (s *Scholarships) List(ctx context.Context, f model.ScholarshipFilter) ([]model.Scholarship, error) {
	return listOf[model.Scholarship](ctx, s.read, s.path, FilterQuery(f))
}

// FilterQuery encodes f as query parameters.
func FilterQuery(f model.ScholarshipFilter) url.Values {
	q := url.Values{}
	if f.StudyLevel != "" {
		q.Set("study_level", f.StudyLevel)
	}
	if f.FieldOfStudy != "" {
		q.Set("field_of_study", f.FieldOfStudy)
	}
	if f.IsActive != nil {
		q.Set("is_active", strconv.FormatBool(*f.IsActive))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

// ParseFilter is the inverse of FilterQuery. Malformed is_active is ignored.
func ParseFilter(q url.Values) model.ScholarshipFilter {
	f := model.ScholarshipFilter{
		StudyLevel:   q.Get("study_level"),
		FieldOfStudy: q.Get("field_of_study"),
		Search:       q.Get("search"),
	}
	if v := q.Get("is_active"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.IsActive = &b
		}
	}
	return f
}
