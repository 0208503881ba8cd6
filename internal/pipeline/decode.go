package pipeline

// Blank-imported so image.Decode (used transitively by imaging.Open) can
// read back a candidate a provider already returned as WebP, the same way
// the teacher's imaging package registers the decoder.
import (
	_ "golang.org/x/image/webp"
)
