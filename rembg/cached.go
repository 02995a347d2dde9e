package rembg

import (
	"context"
	"image"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/util"
	"go.uber.org/zap"
)

// ResultCache 存放抠图结果（PNG 字节）
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Cached 先查缓存再调用下游；缓存出错只记日志
type Cached struct {
	next  Processor
	cache ResultCache
}

func NewCached(next Processor, cache ResultCache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Model() string { return c.next.Model() }

func (c *Cached) Process(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error) {
	input, err := bitmap.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	key := CacheKey(util.BytesMD5(input), c.next.Model(), opts)

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		util.Logger.Warn("failed to get cache", zap.String("key", key), zap.Error(err))
	}
	if ok {
		if result, err := bitmap.DecodeImage(data); err == nil {
			util.Logger.Debug("cache hit", zap.String("key", key))
			return result, nil
		}
	}

	result, err := c.next.Process(ctx, img, opts)
	if err != nil {
		return nil, err
	}

	if encoded, err := bitmap.EncodePNG(result); err == nil {
		if err := c.cache.Set(ctx, key, encoded); err != nil {
			util.Logger.Warn("failed to set cache", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

func CacheKey(md5, model string, opts Options) string {
	return md5 + ":" + model + ":" + opts.Key()
}
