package pipeline

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascensum/genimagefactory/internal/config"
)

func writeTestPNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestConvertStageWebpDowngradesToPngWithSignal(t *testing.T) {
	dir := t.TempDir()
	src := writeTestPNG(t, dir, "src.png")

	buf, err := NewConvertStage().Run(1, "gen-0-v0", ImageBuffer{Path: src, Format: "png"},
		config.Processing{ImageConvert: true, ConvertToWebp: true}, false, dir)
	require.NoError(t, err)
	assert.Equal(t, "png", buf.Format)
	assert.Equal(t, "webp", buf.RequestedFormat)
}

func TestConvertStageJpgHasNoDowngradeSignal(t *testing.T) {
	dir := t.TempDir()
	src := writeTestPNG(t, dir, "src.png")

	buf, err := NewConvertStage().Run(1, "gen-0-v0", ImageBuffer{Path: src, Format: "png"},
		config.Processing{ImageConvert: true, ConvertToJpg: true}, false, dir)
	require.NoError(t, err)
	assert.Equal(t, "jpg", buf.Format)
	assert.Empty(t, buf.RequestedFormat)
}
