package dto

// APIResponse represents the standard API response structure
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty" validate:"omitempty"`
	Error   any    `json:"error,omitempty" validate:"omitempty"`
}

// ErrorDetail represents error details in API responses
type ErrorDetail struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty" validate:"omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginationInfo computes the page count for a result set
func NewPaginationInfo(total int64, page, limit int) PaginationInfo {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PaginationInfo{Total: total, Page: page, Limit: limit, TotalPages: pages}
}
