package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response ends up in the error text.
const maxErrorBody = 512

type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient() IClient {
	return &HTTPClient{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// NewHTTPClientWithTimeout is NewHTTPClient with a caller-chosen overall timeout.
func NewHTTPClientWithTimeout(timeout time.Duration) IClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) DoHTTPRequest(ctx context.Context, param *RequestParam) error {
	if param == nil {
		return errors.New("request param is nil")
	}

	if param.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, param.Timeout)
		defer cancel()
	}

	body, err := requestBody(param.Body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, param.Method, param.RequestURI, body)
	if err != nil {
		return err
	}
	for k, v := range param.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	param.StatusCode = resp.StatusCode

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, string(data))
	}

	if param.Response != nil {
		*param.Response = data
	}
	return nil
}

func requestBody(body interface{}) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		return nil, fmt.Errorf("unsupported request body type %T", body)
	}
}
