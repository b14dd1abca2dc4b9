package models

import (
	"fmt"
	"net/http"
)

// DataFormatError reports a malformed reference table or feed row.
type DataFormatError struct {
	Source string // file name or "feed"
	Line   int    // 1-based record number, 0 when unknown
	Field  string
	Err    error
}

func (e *DataFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: invalid %s: %v", e.Source, e.Line, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: invalid %s: %v", e.Source, e.Field, e.Err)
}

func (e *DataFormatError) Unwrap() error { return e.Err }

// NetworkError reports a failed dataset download.
type NetworkError struct {
	URL        string
	StatusCode int // 0 for transport failures
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PublishError reports a failed batch upsert for one station.
type PublishError struct {
	Station    string
	StatusCode int
	Reason     string
	Err        error
}

func (e *PublishError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publish %s: %d %s", e.Station, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("publish %s: %s: %v", e.Station, e.Reason, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConfigError reports an invalid process configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}
