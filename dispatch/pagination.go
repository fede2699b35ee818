package dispatch

import (
	"math"
	"strconv"
)

const (
	defaultPage    = 1
	defaultPerPage = 20
)

// parsePagination pops page and per_page from the form, falling back to
// the defaults for missing or non-numeric input.
func parsePagination(form Form, defaultPer int) (page, perPage int) {
	if defaultPer <= 0 {
		defaultPer = defaultPerPage
	}
	page = defaultPage
	if parsed, err := strconv.Atoi(form.Pop("page")); err == nil && parsed > 0 {
		page = parsed
	}
	perPage = defaultPer
	if parsed, err := strconv.Atoi(form.Pop("per_page")); err == nil && parsed > 0 {
		perPage = parsed
	}
	return page, perPage
}

// pageBounds computes the [start, stop) slice window for the requested
// page, clamping the page into [1, total pages]. An empty collection
// yields ok=false: an empty page, not an error.
func pageBounds(count, page, perPage int) (start, stop int, ok bool) {
	pages := int(math.Ceil(float64(count) / float64(perPage)))
	if pages == 0 {
		return 0, 0, false
	}
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}
	start = perPage * (page - 1)
	stop = start + perPage
	if stop > count {
		stop = count
	}
	return start, stop, true
}
