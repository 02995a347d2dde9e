package util

import (
	"context"
	"fmt"
	"image"
	"net/http"

	"github.com/disintegration/imaging"
)

// DownloadImage 下载图片，按 EXIF 方向摆正
func DownloadImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status code %d", url, resp.StatusCode)
	}

	return imaging.Decode(resp.Body, imaging.AutoOrientation(true))
}

// OpenImage 打开本地图片，按 EXIF 方向摆正
func OpenImage(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}
