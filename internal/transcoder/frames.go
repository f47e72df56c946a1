package transcoder

import (
	"context"
	"fmt"
	"strconv"
)

// GrabFrame returns one size x size 8-bit grey frame taken at the given
// offset in seconds
func (f *FFmpeg) GrabFrame(ctx context.Context, path string, at float64, size int) ([]byte, error) {
	return f.output(ctx, f.ffmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", path,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d,format=gray", size, size),
		"-f", "rawvideo",
		"-",
	)
}

// SampleFrames returns up to count size x size grey frames sampled at fps,
// concatenated
func (f *FFmpeg) SampleFrames(ctx context.Context, path string, fps float64, size, count int) ([]byte, error) {
	return f.output(ctx, f.ffmpegPath,
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=%s,scale=%d:%d,format=gray", strconv.FormatFloat(fps, 'f', -1, 64), size, size),
		"-vframes", strconv.Itoa(count),
		"-f", "rawvideo",
		"-",
	)
}
