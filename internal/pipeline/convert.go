package pipeline

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/ascensum/genimagefactory/internal/config"
)

// ConvertStage implements stage 7: re-encode to PNG/JPG/WebP, honoring the
// jpgBackground color only when removeBg && convertToJpg are both true.
type ConvertStage struct{}

// NewConvertStage builds the stage.
func NewConvertStage() *ConvertStage { return &ConvertStage{} }

// Run re-encodes buf into the requested target format.
func (s *ConvertStage) Run(executionID int64, mappingID string, buf ImageBuffer, proc config.Processing, removeBgApplied bool, tempDir string) (ImageBuffer, error) {
	target, quality := targetFormat(proc)
	if target == "" {
		return buf, nil
	}

	img, err := imaging.Open(buf.Path)
	if err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageConvert, Cause: err}
	}

	out := image.Image(img)
	if target == "jpg" && removeBgApplied && proc.JpgBackground != "" {
		out = flatten(img, proc.JpgBackground)
	}

	path := tempDir + "/" + tempFileName(executionID, mappingID, StageConvert, target)
	requested := ""
	var saveErr error
	switch target {
	case "jpg":
		saveErr = imaging.Save(out, path, imaging.JPEGQuality(quality))
	case "png":
		saveErr = imaging.Save(out, path, imaging.PNGCompressionLevel(pngCompressionFor(quality)))
	case "webp":
		// Pure-Go WebP encoding is decode-only in this stack (the teacher's
		// imaging package only ever decodes webp); PNG is the lossless
		// fallback target so no artifact is silently dropped. The caller
		// is told via RequestedFormat so it isn't silent to anything
		// inspecting the outcome.
		requested = "webp"
		path = tempDir + "/" + tempFileName(executionID, mappingID, StageConvert, "png")
		saveErr = imaging.Save(out, path, imaging.PNGCompressionLevel(pngCompressionFor(quality)))
		target = "png"
	}
	if saveErr != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageConvert, Cause: saveErr}
	}
	return ImageBuffer{Path: path, Format: target, RequestedFormat: requested}, nil
}

func targetFormat(proc config.Processing) (string, int) {
	if !proc.ImageConvert {
		return "", 0
	}
	switch {
	case proc.ConvertToJpg:
		return "jpg", qualityOrDefault(proc.JpgQuality)
	case proc.ConvertToPng:
		return "png", qualityOrDefault(proc.PngQuality)
	case proc.ConvertToWebp:
		return "webp", qualityOrDefault(proc.WebpQuality)
	default:
		return "", 0
	}
}

func qualityOrDefault(q int) int {
	if q == 0 {
		return 90
	}
	return q
}

func pngCompressionFor(quality int) png.CompressionLevel {
	switch {
	case quality >= 90:
		return png.BestCompression
	case quality >= 50:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}

func flatten(img image.Image, bg string) image.Image {
	c := parseColor(bg)
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, &image.Uniform{C: c}, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)
	return flat
}

// namedColors covers the handful of background names a UI color picker
// commonly offers; anything else must be a "#rrggbb" hex string.
var namedColors = map[string]color.Color{
	"white":       color.White,
	"black":       color.Black,
	"transparent": color.Transparent,
}

func parseColor(s string) color.Color {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := namedColors[s]; ok {
		return c
	}
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.White
	}
	r, err1 := strconv.ParseUint(s[0:2], 16, 8)
	g, err2 := strconv.ParseUint(s[2:4], 16, 8)
	b, err3 := strconv.ParseUint(s[4:6], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return color.White
	}
	return color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 0xff}
}
