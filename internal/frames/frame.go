// Package frames owns persisted still frames: validation, thumbnails, the
// in-memory ordered index and the append-only frame log.
//
// On disk a frame is <unix-millis>.jpg with a sibling thumb_<unix-millis>.jpg.
// The directory is the source of truth; the index is rebuilt from it at
// startup.
package frames

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	frameExt    = ".jpg"
	thumbPrefix = "thumb_"
	partSuffix  = ".part"
)

// Frame is one validated, persisted still image.
type Frame struct {
	Timestamp int64  `json:"timestamp"` // capture instant, unix millis
	Name      string `json:"name"`
	Path      string `json:"path"`
	ThumbPath string `json:"thumbPath"`
}

// FrameName returns the file name for a frame captured at ts (unix millis).
func FrameName(ts int64) string {
	return strconv.FormatInt(ts, 10) + frameExt
}

// ThumbName returns the thumbnail file name for a frame file name.
func ThumbName(frameName string) string {
	return thumbPrefix + frameName
}

// ParseFrameName extracts the timestamp from a frame file name. Thumbnails,
// partial files and non-numeric names are rejected.
func ParseFrameName(name string) (int64, error) {
	if strings.HasPrefix(name, thumbPrefix) || strings.HasPrefix(name, ".") {
		return 0, fmt.Errorf("not a frame: %s", name)
	}
	stem, ok := strings.CutSuffix(name, frameExt)
	if !ok {
		return 0, fmt.Errorf("not a frame: %s", name)
	}
	ts, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || ts <= 0 {
		return 0, fmt.Errorf("not a frame: %s", name)
	}
	return ts, nil
}

// NewFrame builds the Frame for timestamp ts stored in dir.
func NewFrame(dir string, ts int64) Frame {
	name := FrameName(ts)
	return Frame{
		Timestamp: ts,
		Name:      name,
		Path:      filepath.Join(dir, name),
		ThumbPath: filepath.Join(dir, ThumbName(name)),
	}
}

// PartPath returns the temp path a capture attempt writes before the frame
// is validated and renamed into place.
func PartPath(dir, name string) string {
	return filepath.Join(dir, "."+name+partSuffix)
}

// IsServable reports whether name may be served to clients: a frame or a
// thumbnail, never a partial or hidden file.
func IsServable(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return false
	}
	_, err := ParseFrameName(strings.TrimPrefix(name, thumbPrefix))
	return err == nil
}
