package media

import (
	"context"
)

// FFmpegGrabber reads exactly one video frame from a stream URL and writes
// it as JPEG. It implements capture.Grabber.
type FFmpegGrabber struct {
	ff *FFmpeg
}

func NewFFmpegGrabber(ff *FFmpeg) *FFmpegGrabber {
	return &FFmpegGrabber{ff: ff}
}

// Grab writes one frame from streamURL to dst. The output format is forced
// because dst usually carries a temp suffix ffmpeg cannot infer from.
func (g *FFmpegGrabber) Grab(ctx context.Context, streamURL, dst string) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, g.ff.ExtraInputArgs...)
	args = append(args,
		"-i", streamURL,
		"-frames:v", "1",
		"-f", "mjpeg",
		dst,
	)
	return g.ff.run(ctx, args...)
}
