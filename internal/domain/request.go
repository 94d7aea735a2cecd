package domain

import (
	"errors"
	"net/url"
	"strings"
)

const gifSuffix = ".gif"

var ErrMissingParameter = errors.New("missing query parameter: url")

// ConvertRequest is the caller-supplied target of a conversion.
type ConvertRequest struct {
	URL string `json:"url"`
}

// ConvertRequestFromQuery reads the url parameter. A missing parameter yields an
// empty URL, which Validate rejects.
func ConvertRequestFromQuery(query url.Values) ConvertRequest {
	return ConvertRequest{URL: query.Get("url")}
}

func (r ConvertRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return ErrMissingParameter
	}
	return nil
}

// EffectiveURL returns the URL to fetch. Callers append ".gif" to arbitrary links to
// force previews, so a single trailing ".gif" is dropped; anything else passes through.
func (r ConvertRequest) EffectiveURL() string {
	return strings.TrimSuffix(r.URL, gifSuffix)
}
