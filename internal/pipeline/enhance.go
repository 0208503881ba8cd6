package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
)

// EnhanceStage implements stage 6: sharpening and saturation, independent
// of Convert (§4.4). Both amounts are clamped by config.Settings.Validate
// before they ever reach here; 0/1.0 are no-ops, checked again defensively.
type EnhanceStage struct{}

// NewEnhanceStage builds the stage.
func NewEnhanceStage() *EnhanceStage { return &EnhanceStage{} }

// Run applies sharpening (amount in [0,10]) and saturation (factor in
// [0,3]) to buf and writes a new temp file.
func (s *EnhanceStage) Run(executionID int64, mappingID string, buf ImageBuffer, sharpening, saturation float64, tempDir string) (ImageBuffer, error) {
	img, err := imaging.Open(buf.Path)
	if err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageEnhance, Cause: err}
	}

	out := img
	if sharpening > 0 {
		// imaging.Sharpen takes a Gaussian sigma; scale the [0,10] amount
		// into a usable sigma range.
		out = imaging.Sharpen(out, sharpening/2)
	}
	if saturation != 1.0 {
		out = adjustSaturation(out, saturation)
	}

	path := tempDir + "/" + tempFileName(executionID, mappingID, StageEnhance, buf.Format)
	if err := imaging.Save(out, path); err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageEnhance, Cause: err}
	}
	return ImageBuffer{Path: path, Format: buf.Format}, nil
}

// adjustSaturation maps the [0,3] saturation factor (1.0 == no-op) onto
// imaging's [-100,100] percentage scale.
func adjustSaturation(img image.Image, factor float64) *image.NRGBA {
	pct := (factor - 1.0) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < -100 {
		pct = -100
	}
	return imaging.AdjustSaturation(img, pct)
}
