package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam describes one request. Body may be nil, an io.Reader or a
// []byte; the raw response body is stored in Response when it is not nil.
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       interface{}
	Response   *[]byte

	// StatusCode is filled in after the request completes.
	StatusCode int

	Timeout time.Duration
}
