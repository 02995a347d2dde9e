package http

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader 足以让服务端识别为 PNG
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestNewHTTPClientWithTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"default", 0, defaultTimeout},
		{"negative", -time.Second, defaultTimeout},
		{"custom", 2 * time.Minute, 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, ok := NewHTTPClientWithTimeout(tt.timeout).(*HTTPClient)
			require.True(t, ok)
			assert.Equal(t, tt.want, cli.client.Timeout)
		})
	}

	cli := NewHTTPClient().(*HTTPClient)
	assert.Equal(t, defaultTimeout, cli.client.Timeout)
}

func TestHTTPClient_MultipartUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "u2net", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "image.png", hdr.Filename)
		data, _ := io.ReadAll(f)

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("model", "u2net"))
	require.NoError(t, writer.Close())

	var out []byte
	param := &RequestParam{
		RequestURI: server.URL + "/api/remove",
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &out,
	}
	require.NoError(t, NewHTTPClient().DoHTTPRequest(context.Background(), param))
	assert.Equal(t, http.StatusOK, param.StatusCode)
	assert.Equal(t, pngHeader, out)
}

func TestHTTPClient_Body(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_, _ = w.Write(data)
	}))
	defer server.Close()

	tests := []struct {
		name    string
		body    interface{}
		want    []byte
		wantErr string
	}{
		{"nil", nil, []byte{}, ""},
		{"bytes", pngHeader, pngHeader, ""},
		{"reader", bytes.NewReader(pngHeader), pngHeader, ""},
		{"unsupported", map[string]string{"a": "b"}, nil, "unsupported request body type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out []byte
			err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
				RequestURI: server.URL,
				Method:     http.MethodPost,
				Body:       tt.body,
				Response:   &out,
			})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), len(out))
			assert.True(t, bytes.Equal(tt.want, out))
		})
	}
}

func TestHTTPClient_NilResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	param := &RequestParam{RequestURI: server.URL, Method: http.MethodPost, Body: pngHeader}
	require.NoError(t, NewHTTPClient().DoHTTPRequest(context.Background(), param))
	assert.Equal(t, http.StatusOK, param.StatusCode)
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "session for model failed", code)
			}))
			defer server.Close()

			var out []byte
			param := &RequestParam{RequestURI: server.URL, Method: http.MethodPost, Body: pngHeader, Response: &out}
			err := NewHTTPClient().DoHTTPRequest(context.Background(), param)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "status "+strconv.Itoa(code))
			assert.Contains(t, err.Error(), "session for model failed")
			assert.Equal(t, code, param.StatusCode)
			assert.Empty(t, out)
		})
	}
}

func TestHTTPClient_ErrorBodyTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer server.Close()

	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{RequestURI: server.URL, Method: http.MethodPost})
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 2*maxErrorBody)
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
		RequestURI: server.URL,
		Method:     http.MethodPost,
		Body:       pngHeader,
		Timeout:    20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewHTTPClient().DoHTTPRequest(ctx, &RequestParam{RequestURI: server.URL, Method: http.MethodPost})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_InvalidRequest(t *testing.T) {
	cli := NewHTTPClient()
	assert.ErrorContains(t, cli.DoHTTPRequest(context.Background(), nil), "request param is nil")
	assert.Error(t, cli.DoHTTPRequest(context.Background(), &RequestParam{RequestURI: "://bad", Method: http.MethodPost}))
	assert.Error(t, cli.DoHTTPRequest(context.Background(), &RequestParam{RequestURI: "http://127.0.0.1:1", Method: http.MethodPost}))
}
