package task

import (
	"strings"

	"tasktree/internal/models"
)

// Filter narrows a List query. All set fields must match (AND semantics).
// Title and Description are substring matches; DueDate and CompletedAt match
// on the calendar day.
type Filter struct {
	Priority    *models.Priority
	Status      *models.Status
	Title       string
	Description string
	DueDate     *models.Date
	CompletedAt *models.Date
}

// SortTerm orders a List result by one field.
type SortTerm struct {
	Field string
	Desc  bool
}

// sortFields is the allow-list of sortable columns.
var sortFields = map[string]struct{}{
	"created_at":   {},
	"title":        {},
	"priority":     {},
	"due_date":     {},
	"status":       {},
	"completed_at": {},
}

// ParseSort parses a "field:direction,field:direction" spec into sort terms.
// Fields outside the allow-list are dropped without error so a client typo
// does not fail the whole query; any direction other than "desc" sorts
// ascending.
func ParseSort(spec string) []SortTerm {
	var terms []SortTerm
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, dir, _ := strings.Cut(part, ":")
		if _, ok := sortFields[field]; !ok {
			continue
		}
		terms = append(terms, SortTerm{
			Field: field,
			Desc:  strings.EqualFold(dir, "desc"),
		})
	}
	return terms
}
