package frames

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	ThumbWidth   = 240
	ThumbHeight  = 100
	thumbQuality = 80
)

// Thumbnailer derives fixed-size previews next to their source frame.
type Thumbnailer struct {
	Width, Height int
}

// NewThumbnailer returns a 240x100 thumbnailer.
func NewThumbnailer() *Thumbnailer {
	return &Thumbnailer{Width: ThumbWidth, Height: ThumbHeight}
}

// Derive writes thumb_<name> beside srcPath and returns its path.
// The file is written to a temp name and renamed so readers never observe
// a partial thumbnail.
func (t *Thumbnailer) Derive(srcPath string) (string, error) {
	img, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	thumb := imaging.Fill(img, t.Width, t.Height, imaging.Center, imaging.Lanczos)

	dir := filepath.Dir(srcPath)
	dst := filepath.Join(dir, ThumbName(filepath.Base(srcPath)))

	tmp, err := os.CreateTemp(dir, ".thumb-*"+partSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp thumbnail: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := imaging.Encode(tmp, thumb, imaging.JPEG, imaging.JPEGQuality(thumbQuality)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close thumbnail: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", fmt.Errorf("rename thumbnail: %w", err)
	}
	return dst, nil
}
