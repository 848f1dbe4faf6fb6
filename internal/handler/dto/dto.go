// Package dto provides Data Transfer Objects for API requests and responses.
package dto

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code and a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pagination provides cursor-based pagination info.
type Pagination struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// ListResponse wraps one page of items.
type ListResponse[T any] struct {
	Data       []T         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// NewListResponse builds a list response, never encoding data as null.
func NewListResponse[T any](items []T, nextCursor string, hasMore bool) *ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return &ListResponse[T]{
		Data:       items,
		Pagination: &Pagination{NextCursor: nextCursor, HasMore: hasMore},
	}
}

// DataResponse wraps an unpaginated collection.
type DataResponse[T any] struct {
	Data []T `json:"data"`
}

// NewDataResponse builds a data response, never encoding data as null.
func NewDataResponse[T any](items []T) *DataResponse[T] {
	if items == nil {
		items = []T{}
	}
	return &DataResponse[T]{Data: items}
}
