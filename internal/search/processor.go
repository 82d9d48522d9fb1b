package search

import (
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// ProcessQuery trims the query text, validates the request and applies defaults.
func ProcessQuery(req *models.QueryRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	return req.Validate()
}
