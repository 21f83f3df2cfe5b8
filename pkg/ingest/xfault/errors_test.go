package xfault

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	body := strings.Repeat("x", 2*maxBodySnippet)
	err := NewStatusError(400, "400 Bad Request", []byte(body))
	assert.Len(t, err.Body, maxBodySnippet)
	assert.Contains(t, err.Error(), "400 Bad Request")
	assert.False(t, err.Retryable())
	assert.True(t, NewStatusError(503, "", nil).Retryable())
	assert.Contains(t, NewStatusError(503, "", nil).Error(), "503")
}

func TestFetchError(t *testing.T) {
	params := url.Values{"$filter": {"Id gt 10"}}
	err := &FetchError{
		Category:   CategoryClient,
		Endpoint:   "https://data.example/odata/Motions",
		URL:        "https://data.example/odata/Motions?$filter=Id+gt+10",
		Params:     params,
		StatusCode: 400,
		Err:        NewStatusError(400, "", nil),
	}

	assert.False(t, err.Retryable())
	assert.True(t, IsClient(err))
	assert.Contains(t, err.Error(), "client")

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 400, se.StatusCode)
}

func TestCircuitOpenError(t *testing.T) {
	inner := errors.New("circuit breaker is open")
	err := &FetchError{
		Category: CategoryUnknown,
		Endpoint: "data.example/odata/Motions",
		Err:      &CircuitOpenError{Endpoint: "data.example/odata/Motions", State: "open", Err: inner},
	}

	assert.True(t, IsCircuitOpen(err))
	assert.False(t, err.Retryable())
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsCircuitOpen(errors.New("other")))
}

func TestIncompleteDatasetWarning(t *testing.T) {
	w := &IncompleteDatasetWarning{Endpoint: "e", Expected: 350, Fetched: 349}
	assert.True(t, IsIncomplete(w))
	assert.False(t, w.Retryable())
	assert.Contains(t, w.Error(), "expected 350")
	assert.False(t, IsIncomplete(errors.New("x")))
}

func TestDecodeError(t *testing.T) {
	inner := errors.New("invalid character")
	err := &DecodeError{Reason: "not json", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.True(t, err.Retryable())
	assert.Equal(t, "xfault: decode payload: empty body", (&DecodeError{Reason: "empty body"}).Error())
}
