// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// ERROR VARIABLES
// =============================================================================

var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist upstream.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrProviderNotFound indicates no provider is registered for a backend type.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrEmptyResponse indicates a one-shot response carried no choices.
	ErrEmptyResponse = errors.New("empty response")
)

// =============================================================================
// API ERROR
// =============================================================================

// APIError is a non-success HTTP response from a backend.
type APIError struct {
	Status  int
	Code    string
	Message string

	// kind is the sentinel matched by errors.Is, if any
	kind error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// Unwrap exposes the matching sentinel so errors.Is(err, ErrAuthFailed) works.
func (e *APIError) Unwrap() error {
	return e.kind
}

// RateLimitError represents a rate limit error with retry information.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// =============================================================================
// RESPONSE DECODING
// =============================================================================

// apiErrorResponse is the OpenAI-style error envelope. Some backends send a
// numeric code, so it is decoded raw.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Type    string          `json:"type"`
	} `json:"error"`
}

// errorFromResponse maps a non-200 response to a typed error.
func errorFromResponse(status int, header http.Header, body []byte) error {
	var code, message string
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		code = strings.Trim(string(bytes.TrimSpace(envelope.Error.Code)), `"`)
		if code == "null" {
			code = ""
		}
		if code == "" {
			code = envelope.Error.Type
		}
	} else {
		message = strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(status)
		}
	}

	if status == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After")), Message: message}
	}

	apiErr := &APIError{Status: status, Code: code, Message: message}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.kind = ErrAuthFailed
	case http.StatusPaymentRequired:
		apiErr.kind = ErrInsufficientCredits
	case http.StatusNotFound:
		apiErr.kind = ErrModelNotFound
	}
	return apiErr
}

// parseRetryAfter accepts either delay-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
