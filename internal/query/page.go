package query

import "github.com/systemshift/reqgraph/internal/element"

// Info is the pagination metadata of one fetched page.
type Info struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"pageSize"`
	TotalCount  int  `json:"totalCount"`
	TotalPages  int  `json:"totalPages"`
	IsFirstPage bool `json:"isFirstPage"`
	IsLastPage  bool `json:"isLastPage"`
}

// NewInfo derives the page flags from page, pageSize and the total count.
func NewInfo(page, pageSize, total int) Info {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pages := 0
	if total > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Info{
		Page:        page,
		PageSize:    pageSize,
		TotalCount:  total,
		TotalPages:  pages,
		IsFirstPage: page == 0,
		IsLastPage:  page >= pages-1,
	}
}

// Page is the list response body.
type Page struct {
	Content []element.Record `json:"content"`
	Info
}

// State is what the store remembers about its last successful fetch. It
// describes the fetch, not the data: records from earlier pages stay
// resident.
type State struct {
	Request Request `json:"request"`
	Info    Info    `json:"info"`
	Loaded  bool    `json:"loaded"`
}

// Next returns the request for the following page, or false on the last
// page.
func (s State) Next() (Request, bool) {
	if !s.Loaded || s.Info.IsLastPage {
		return Request{}, false
	}
	r := s.Request
	r.Page = s.Info.Page + 1
	return r, true
}

// Prev returns the request for the preceding page, or false on the first
// page.
func (s State) Prev() (Request, bool) {
	if !s.Loaded || s.Info.IsFirstPage {
		return Request{}, false
	}
	r := s.Request
	r.Page = s.Info.Page - 1
	return r, true
}
