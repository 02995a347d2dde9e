package batch

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/chaos-io/nobg/bitmap"
	"github.com/chaos-io/nobg/editor"
	"github.com/chaos-io/nobg/rembg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearProcessor 把左半边变透明，模拟去背景
type clearProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *clearProcessor) Model() string { return "u2net" }

func (p *clearProcessor) Process(_ context.Context, img image.Image, _ rembg.Options) (*image.NRGBA, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	out := bitmap.Clone(img)
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Min.X+b.Dx()/2; x++ {
			out.SetNRGBA(x, y, color.NRGBA{})
		}
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Progress
}

func (r *recorder) OnProgress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func writeImage(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	require.NoError(t, bitmap.SavePNG(filepath.Join(dir, name), img))
}

func writeGarbage(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("not an image"), 0o644))
}

func TestRemoveBackground_PartialFailure(t *testing.T) {
	src, dst := t.TempDir(), filepath.Join(t.TempDir(), "out")
	writeImage(t, src, "a.png", 8, 8)
	writeGarbage(t, src, "b.png")
	writeImage(t, src, "c.png", 6, 4)
	writeGarbage(t, src, "notes.txt")

	proc := &clearProcessor{}
	rec := &recorder{}
	res, err := RemoveBackground(context.Background(), proc, Job{SourceDir: src, DestDir: dst, Observer: rec}, rembg.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "b.png", res.Errors[0].Name)
	assert.Contains(t, res.Messages()[0], "'b.png': ")
	assert.Equal(t, 2, proc.calls)

	require.Len(t, rec.events, 3)
	want := []float64{1.0 / 3, 2.0 / 3, 1}
	for i, ev := range rec.events {
		assert.InDelta(t, want[i], ev.Fraction, 1e-9)
		assert.Equal(t, i+1, ev.Index)
		assert.Equal(t, 3, ev.Total)
	}
	assert.Equal(t, "Batch (u2net) 2/3: b.png", rec.events[1].Status)
	assert.Equal(t, 1.0, rec.events[2].Fraction)

	out, err := bitmap.Load(filepath.Join(dst, "a_u2net_no-bg.png"))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(200), out.NRGBAAt(7, 0).A)
	assert.FileExists(t, filepath.Join(dst, "c_u2net_no-bg.png"))
	assert.NoFileExists(t, filepath.Join(dst, "b_u2net_no-bg.png"))
}

func TestRemoveBackground_Invariant(t *testing.T) {
	tests := []struct {
		name    string
		good    int
		bad     int
		procErr error
	}{
		{"all good", 4, 0, nil},
		{"all corrupt", 0, 3, nil},
		{"mixed", 2, 2, nil},
		{"processor fails", 3, 0, errors.New("inference failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := t.TempDir(), t.TempDir()
			for i := 0; i < tt.good; i++ {
				writeImage(t, src, string(rune('a'+i))+".png", 4, 4)
			}
			for i := 0; i < tt.bad; i++ {
				writeGarbage(t, src, string(rune('m'+i))+".jpg")
			}

			res, err := RemoveBackground(context.Background(), &clearProcessor{err: tt.procErr},
				Job{SourceDir: src, DestDir: dst}, rembg.DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, tt.good+tt.bad, res.Total)
			assert.Equal(t, res.Total, res.Processed+len(res.Errors))
			if tt.procErr != nil {
				assert.Equal(t, 0, res.Processed)
				assert.ErrorIs(t, res.Errors[0], tt.procErr)
			}
		})
	}
}

func TestRemoveBackground_Preconditions(t *testing.T) {
	src := t.TempDir()
	writeImage(t, src, "a.png", 4, 4)
	proc := &clearProcessor{}
	ctx := context.Background()

	_, err := RemoveBackground(ctx, proc, Job{SourceDir: src, DestDir: src}, rembg.DefaultOptions())
	assert.ErrorIs(t, err, ErrSameDirectory)

	_, err = RemoveBackground(ctx, proc, Job{SourceDir: src, DestDir: filepath.Join(src, ".")}, rembg.DefaultOptions())
	assert.ErrorIs(t, err, ErrSameDirectory)

	_, err = RemoveBackground(ctx, proc, Job{SourceDir: src, DestDir: t.TempDir()}, rembg.Options{ErodeSize: 100})
	assert.Error(t, err)

	_, err = RemoveBackground(ctx, nil, Job{SourceDir: src, DestDir: t.TempDir()}, rembg.DefaultOptions())
	assert.Error(t, err)

	_, err = RemoveBackground(ctx, proc, Job{SourceDir: filepath.Join(src, "missing"), DestDir: t.TempDir()}, rembg.DefaultOptions())
	assert.Error(t, err)

	assert.Equal(t, 0, proc.calls)
}

func TestRemoveBackground_Empty(t *testing.T) {
	rec := &recorder{}
	dst := filepath.Join(t.TempDir(), "out")
	res, err := RemoveBackground(context.Background(), &clearProcessor{}, Job{SourceDir: t.TempDir(), DestDir: dst, Observer: rec}, rembg.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
	assert.Empty(t, rec.events)
}

func TestRemoveBackground_ExplicitFiles(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeImage(t, src, "a.png", 4, 4)
	writeImage(t, src, "b.png", 4, 4)

	var names []string
	obs := ObserverFunc(func(p Progress) { names = append(names, p.File) })
	res, err := RemoveBackground(context.Background(), &clearProcessor{},
		Job{SourceDir: src, DestDir: dst, Files: []string{"b.png", "a.png", "gone.png"}, Observer: obs},
		rembg.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "a.png", "gone.png"}, names)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, "gone.png", res.Errors[0].Name)
}

func TestRemoveBackground_ExplicitEmptyList(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeImage(t, src, "a.png", 4, 4)

	proc := &clearProcessor{}
	rec := &recorder{}
	res, err := RemoveBackground(context.Background(), proc,
		Job{SourceDir: src, DestDir: dst, Files: []string{}, Observer: rec}, rembg.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, res.Errors)
	assert.Empty(t, rec.events)
	assert.Equal(t, 0, proc.calls)
	assert.NoFileExists(t, filepath.Join(dst, "a_u2net_no-bg.png"))
}

func TestRemoveBackground_OutputCollision(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeImage(t, src, "a.jpg", 4, 4)
	writeImage(t, src, "a.png", 6, 6)
	writeImage(t, src, "b.png", 4, 4)

	proc := &clearProcessor{}
	res, err := RemoveBackground(context.Background(), proc, Job{SourceDir: src, DestDir: dst}, rembg.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a.png", res.Errors[0].Name)
	assert.ErrorIs(t, res.Errors[0], ErrOutputExists)
	assert.Equal(t, 2, proc.calls)

	// 先占用输出名的 a.jpg 没有被覆盖
	out, err := bitmap.Load(filepath.Join(dst, "a_u2net_no-bg.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
}

func TestMassCrop_OutputCollision(t *testing.T) {
	src := t.TempDir()
	writeImage(t, src, "x.jpeg", 8, 8)
	writeImage(t, src, "X.webp.png", 8, 8)
	writeImage(t, src, "x.PNG", 8, 8)

	res, err := MassCrop(context.Background(), Job{SourceDir: src, DestDir: filepath.Join(src, "out")}, editor.Rect{X2: 4, Y2: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, res.Total, res.Processed+len(res.Errors))
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrOutputExists)
}

func TestRemoveBackground_Cancel(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeImage(t, src, name, 4, 4)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := ObserverFunc(func(p Progress) {
		if p.Index == 1 {
			cancel()
		}
	})

	res, err := RemoveBackground(ctx, &clearProcessor{}, Job{SourceDir: src, DestDir: dst, Observer: obs}, rembg.DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "b.png", res.Errors[0].Name)
	assert.ErrorIs(t, res.Errors[1], context.Canceled)
}

func TestMassCrop(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "crop_output")
	writeImage(t, src, "big.png", 40, 30)
	writeImage(t, src, "mid.jpg", 20, 20)
	writeImage(t, src, "small.png", 8, 8)

	rect, err := editor.NewRect(15, 10, 5, 2)
	require.NoError(t, err)

	rec := &recorder{}
	res, err := MassCrop(context.Background(), Job{SourceDir: src, DestDir: dst, Observer: rec}, rect)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "Mass crop 1/3: big.png", rec.events[0].Status)

	for _, name := range []string{"big-cropped.png", "mid-cropped.png", "small-cropped.png"} {
		img, err := bitmap.Load(filepath.Join(dst, name))
		require.NoError(t, err, name)
		assert.Equal(t, image.Rect(0, 0, 10, 8), img.Bounds(), name)
	}

	// 再跑一次，输出目录在源目录下但不会被当作输入
	res, err = MassCrop(context.Background(), Job{SourceDir: src, DestDir: dst}, rect)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
}

func TestMassCrop_Preconditions(t *testing.T) {
	src := t.TempDir()
	writeImage(t, src, "a.png", 4, 4)

	_, err := MassCrop(context.Background(), Job{SourceDir: src, DestDir: t.TempDir()}, editor.Rect{X1: 3, Y1: 3, X2: 3, Y2: 9})
	assert.ErrorIs(t, err, editor.ErrEmptySelection)

	_, err = MassCrop(context.Background(), Job{SourceDir: src, DestDir: src}, editor.Rect{X2: 2, Y2: 2})
	assert.ErrorIs(t, err, ErrSameDirectory)
}

func TestFileError(t *testing.T) {
	e := FileError{Name: "x.png", Err: errors.New("boom")}
	assert.Equal(t, "'x.png': boom", e.Error())

	res := &Result{Processed: 1, Total: 2, Errors: []FileError{e}}
	assert.Equal(t, []string{"'x.png': boom"}, res.Messages())
	assert.Equal(t, "1/2 processed, 1 error(s)", res.String())

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed":1,"total":2,"errors":["'x.png': boom"]}`, string(data))
}
