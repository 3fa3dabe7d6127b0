package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 50
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset query parameters with the default
// bounds.
func FromContext(c echo.Context) Params {
	return Parse(c, DefaultLimit, MaxLimit)
}

// Parse reads limit and offset query parameters. Missing, non-numeric or
// non-positive limits fall back to def; limits above max are clamped.
// Negative or invalid offsets become 0.
func Parse(c echo.Context, def, max int) Params {
	if def > max {
		def = max
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}
