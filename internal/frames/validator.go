package frames

import (
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// DefaultBlankThreshold is the per-channel average above which a frame is
// considered blank (near pure white).
const DefaultBlankThreshold = 250

// Validator rejects blank or overexposed frames.
type Validator struct {
	Threshold float64
}

// NewValidator creates a validator. threshold <= 0 selects the default.
func NewValidator(threshold int) *Validator {
	if threshold <= 0 {
		threshold = DefaultBlankThreshold
	}
	return &Validator{Threshold: float64(threshold)}
}

// IsValid reports whether the image at path is usable. It never fails:
// anything that cannot be decoded is invalid.
func (v *Validator) IsValid(path string) bool {
	img, err := imaging.Open(path)
	if err != nil {
		slog.Debug("frame decode failed", "path", path, "error", err)
		return false
	}
	r, g, b, ok := AverageColor(img)
	if !ok {
		return false
	}
	if r > v.Threshold && g > v.Threshold && b > v.Threshold {
		slog.Debug("frame rejected as blank", "path", path, "r", r, "g", g, "b", b)
		return false
	}
	return true
}

// AverageColor returns the mean of each RGB channel over all pixels.
// ok is false for an empty image.
func AverageColor(img image.Image) (r, g, b float64, ok bool) {
	nrgba := imaging.Clone(img)
	n := nrgba.Rect.Dx() * nrgba.Rect.Dy()
	if n == 0 {
		return 0, 0, 0, false
	}

	var sr, sg, sb uint64
	for y := 0; y < nrgba.Rect.Dy(); y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+nrgba.Rect.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			sr += uint64(row[i])
			sg += uint64(row[i+1])
			sb += uint64(row[i+2])
		}
	}
	fn := float64(n)
	return float64(sr) / fn, float64(sg) / fn, float64(sb) / fn, true
}
