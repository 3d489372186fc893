package shared

// ListFilters carries the common listing knobs for master data directories.
type ListFilters struct {
	Search  string
	SortBy  string
	SortDir string
	Page    int
	Limit   int
}

// Offset computes the row offset for the current page.
func (f ListFilters) Offset() int {
	if f.Page <= 1 || f.Limit <= 0 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// SortClause returns "column direction" restricted to the allowed columns.
func SortClause(allowed map[string]bool, by, dir, fallback string) string {
	if !allowed[by] {
		by = fallback
	}
	if dir != "asc" && dir != "desc" {
		dir = "asc"
	}
	return by + " " + dir
}
