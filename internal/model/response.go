package model

// ListResponse is the envelope for paginated data API lists.
type ListResponse struct {
	Data []map[string]any `json:"data"`
	Meta PageMeta         `json:"meta"`
}

// PageMeta carries pagination details for a list.
type PageMeta struct {
	CurrentPage int   `json:"current_page"`
	LastPage    int   `json:"last_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
}

// ItemResponse is the envelope for single-record responses.
type ItemResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the envelope for non-validation errors.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// ValidationResponse is the envelope for 422 responses.
type ValidationResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}
