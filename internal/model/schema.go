package model

// Column describes a live column of a physical table as introspected from
// the backing store.
type Column struct {
	Name         string `json:"name"`
	Position     int    `json:"position"`
	Type         string `json:"db_type"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}
