package util

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()
	require.NoError(t, png.Encode(f, img))
}

func TestOpenImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, 7, 3)

	img, err := OpenImage(path)
	require.NoError(t, err)
	assert.Equal(t, 7, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())

	_, err = OpenImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestDownloadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, 4, 5)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, path)
	}))
	defer server.Close()

	img, err := DownloadImage(context.Background(), server.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 5), img.Bounds())

	_, err = DownloadImage(context.Background(), server.URL+"/missing.png")
	assert.ErrorContains(t, err, "status code 404")
}

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", BytesMD5([]byte("abc")))
}

func TestTrace(t *testing.T) {
	done := Trace("noop")
	assert.NotPanics(t, done)
}
