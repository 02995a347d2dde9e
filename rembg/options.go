package rembg

import (
	"fmt"
	"slices"
)

const DefaultModel = "isnet-general-use"

// Models 是 rembg 可用的模型名
var Models = []string{
	"u2net",
	"u2netp",
	"u2net_human_seg",
	"silueta",
	"isnet-general-use",
	"isnet-anime",
}

func IsKnownModel(name string) bool {
	return slices.Contains(Models, name)
}

const (
	MaxThreshold = 255
	MaxErodeSize = 50
)

// Options 是一次抠图调用的四个参数，按值传递，任务开始时即固定。
type Options struct {
	AlphaMatting        bool `json:"alpha_matting" mapstructure:"alpha_matting"`
	ForegroundThreshold int  `json:"foreground_threshold" mapstructure:"foreground_threshold"`
	BackgroundThreshold int  `json:"background_threshold" mapstructure:"background_threshold"`
	ErodeSize           int  `json:"erode_size" mapstructure:"erode_size"`
}

func DefaultOptions() Options {
	return Options{
		AlphaMatting:        true,
		ForegroundThreshold: 250,
		BackgroundThreshold: 10,
		ErodeSize:           5,
	}
}

func (o Options) Validate() error {
	if o.ForegroundThreshold < 0 || o.ForegroundThreshold > MaxThreshold {
		return fmt.Errorf("foreground threshold %d out of range 0-%d", o.ForegroundThreshold, MaxThreshold)
	}
	if o.BackgroundThreshold < 0 || o.BackgroundThreshold > MaxThreshold {
		return fmt.Errorf("background threshold %d out of range 0-%d", o.BackgroundThreshold, MaxThreshold)
	}
	if o.ErodeSize < 0 || o.ErodeSize > MaxErodeSize {
		return fmt.Errorf("erode size %d out of range 0-%d", o.ErodeSize, MaxErodeSize)
	}
	return nil
}

// Clamp 把越界的值压回范围内
func (o Options) Clamp() Options {
	o.ForegroundThreshold = min(max(o.ForegroundThreshold, 0), MaxThreshold)
	o.BackgroundThreshold = min(max(o.BackgroundThreshold, 0), MaxThreshold)
	o.ErodeSize = min(max(o.ErodeSize, 0), MaxErodeSize)
	return o
}

// Key 用于缓存键
func (o Options) Key() string {
	return fmt.Sprintf("a=%t,af=%d,ab=%d,ae=%d", o.AlphaMatting, o.ForegroundThreshold, o.BackgroundThreshold, o.ErodeSize)
}
