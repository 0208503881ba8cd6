package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
)

// TrimTransparentStage implements stage 5: crop the opaque bounding box,
// requiring a prior successful RemoveBackground (§4.4).
type TrimTransparentStage struct{}

// NewTrimTransparentStage builds the stage.
func NewTrimTransparentStage() *TrimTransparentStage { return &TrimTransparentStage{} }

// Run crops buf to its opaque bounding box and writes a new temp file.
func (s *TrimTransparentStage) Run(executionID int64, mappingID string, buf ImageBuffer, tempDir string) (ImageBuffer, error) {
	img, err := imaging.Open(buf.Path)
	if err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageTrimTransparent, Cause: err}
	}

	box := opaqueBoundingBox(img)
	cropped := imaging.Crop(img, box)

	path := tempDir + "/" + tempFileName(executionID, mappingID, StageTrimTransparent, "png")
	if err := imaging.Save(cropped, path); err != nil {
		return ImageBuffer{}, &StageFailure{Stage: StageTrimTransparent, Cause: err}
	}
	return ImageBuffer{Path: path, Format: "png"}, nil
}

// opaqueBoundingBox finds the smallest rectangle containing every non-fully-
// transparent pixel. An image with no transparency returns its own bounds.
func opaqueBoundingBox(img image.Image) image.Rectangle {
	bounds := img.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X, bounds.Min.Y
	found := false

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a > 0 {
				found = true
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if !found {
		return bounds
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
