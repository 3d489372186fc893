package locations

import "time"

// LocationType classifies where stock can sit.
type LocationType string

const (
	TypeStorage   LocationType = "storage"
	TypeJobSite   LocationType = "job_site"
	TypeInTransit LocationType = "in_transit"
)

// ValidType reports whether t is a known location type.
func ValidType(t LocationType) bool {
	return t == TypeStorage || t == TypeJobSite || t == TypeInTransit
}

// Location is a physical or logical place holding stock. Archived locations
// accept no new stock movements; existing rows stay readable.
type Location struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Type      LocationType `json:"type"`
	Address   string       `json:"address,omitempty"`
	Archived  bool         `json:"archived"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
