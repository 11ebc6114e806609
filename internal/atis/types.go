package atis

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingReport means the provider answered with a well-formed body that
// carries no usable report text under the configured key.
var ErrMissingReport = errors.New("no ATIS information in response")

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("atis provider returned http %d (%s)", e.StatusCode, e.URL)
}

// Report is a single fetched ATIS broadcast. It is replaced wholesale by the next fetch.
type Report struct {
	ICAO      string
	Source    string
	Text      string
	FetchedAt time.Time // UTC
}

// Config configures a Client.
type Config struct {
	BaseURL string
	ICAO    string
	Source  string
	// Field is the JSON key holding the combined report text.
	Field   string
	Timeout time.Duration
	// UserAgent defaults to "atisbot".
	UserAgent string
}

const (
	DefaultBaseURL = "https://api.flybywiresim.com"
	DefaultICAO    = "KPDX"
	DefaultSource  = "vatsim"
	DefaultField   = "combined"
	DefaultTimeout = 15 * time.Second
)
