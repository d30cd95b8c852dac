package types

// Pagination bounds for list endpoints.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PaginationParams are the query parameters of list endpoints.
type PaginationParams struct {
	Limit  int64   `json:"limit"`
	Cursor *string `json:"cursor,omitempty"`
}

// ClampLimit forces the limit into [1, MaxPageLimit]. Callers apply
// DefaultPageLimit when the parameter is absent; an explicit 0 clamps to 1.
func ClampLimit(limit int64) int64 {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// PaginatedResponse is one page of a keyset-paginated listing.
type PaginatedResponse struct {
	Items      []*TransferRequest `json:"items"`
	NextCursor *string            `json:"next_cursor"`
	HasMore    bool               `json:"has_more"`
}

// EmptyPage is the response for a listing with no results.
func EmptyPage() *PaginatedResponse {
	return &PaginatedResponse{Items: []*TransferRequest{}}
}
