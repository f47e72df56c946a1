// Package fingerprint computes the file, perceptual and temporal hashes used
// to recognise processed videos.
package fingerprint

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
)

const (
	chunkSize = 8 * 1024

	perceptualSamples = 64
	perceptualSize    = 8

	temporalFrames = 32
	temporalSize   = 4
	temporalDelta  = 10.0

	// neutral brightness used for frames that could not be read
	neutral = 128.0

	fallbackDuration = 10.0
	grabConcurrency  = 4
)

// EmptyTemporal is returned when too few frames could be sampled
const EmptyTemporal = "00000000"

// FrameSource extracts grey frames from a video file
type FrameSource interface {
	Duration(ctx context.Context, path string) (float64, error)
	GrabFrame(ctx context.Context, path string, at float64, size int) ([]byte, error)
	SampleFrames(ctx context.Context, path string, fps float64, size, count int) ([]byte, error)
}

// Set is the hash triple computed for one file
type Set struct {
	FileHash    string
	Perceptual  string
	TemporalSig string
}

// Fingerprinter computes hashes through a FrameSource
type Fingerprinter struct {
	frames FrameSource
	logger *logging.Logger
}

// New creates a Fingerprinter
func New(frames FrameSource, logger *logging.Logger) *Fingerprinter {
	return &Fingerprinter{frames: frames, logger: logger.Component("fingerprint")}
}

// FileHash returns the hex SHA-256 of the file's contents
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, chunkSize)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute returns all three hashes of path
func (f *Fingerprinter) Compute(ctx context.Context, path string) (Set, error) {
	var set Set
	var err error
	if set.FileHash, err = FileHash(path); err != nil {
		return set, err
	}
	if set.Perceptual, err = f.PerceptualHash(ctx, path); err != nil {
		return set, err
	}
	if set.TemporalSig, err = f.TemporalSignature(ctx, path); err != nil {
		return set, err
	}
	return set, nil
}

// PerceptualHash samples 64 evenly spaced 8x8 frames and emits one bit per
// frame: set when its mean brightness is above the mean of all samples.
// Unreadable frames count as neutral grey.
func (f *Fingerprinter) PerceptualHash(ctx context.Context, path string) (string, error) {
	duration, err := f.frames.Duration(ctx, path)
	if err != nil || duration <= 0 {
		f.logger.WithError(err).Debug("Duration unavailable, using fallback")
		duration = fallbackDuration
	}
	interval := duration / perceptualSamples

	samples := make([]float64, perceptualSamples)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(grabConcurrency)
	for i := range samples {
		i := i
		g.Go(func() error {
			frame, err := f.frames.GrabFrame(gctx, path, float64(i)*interval, perceptualSize)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				f.logger.WithError(err).Debugf("Frame %d unreadable", i)
			}
			samples[i] = meanBrightness(frame)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return bitsToHex(samples), nil
}

func bitsToHex(samples []float64) string {
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var bits uint64
	for _, s := range samples {
		bits <<= 1
		if s > mean {
			bits |= 1
		}
	}
	return fmt.Sprintf("%016x", bits)
}

// TemporalSignature encodes the brightness trend over 32 one-second frames as
// a U/D/S string and returns the first 8 hex chars of its MD5
func (f *Fingerprinter) TemporalSignature(ctx context.Context, path string) (string, error) {
	raw, err := f.frames.SampleFrames(ctx, path, 1, temporalSize, temporalFrames)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		f.logger.WithError(err).Debug("Temporal sampling failed")
		return EmptyTemporal, nil
	}
	return temporalFromFrames(raw), nil
}

// temporalFromFrames ignores a trailing partial frame. Fewer than two whole
// frames give no trend.
func temporalFromFrames(raw []byte) string {
	frameBytes := temporalSize * temporalSize
	n := min(len(raw)/frameBytes, temporalFrames)
	if n < 2 {
		return EmptyTemporal
	}

	means := make([]float64, n)
	for i := range means {
		means[i] = meanBrightness(raw[i*frameBytes : (i+1)*frameBytes])
	}

	var pattern strings.Builder
	for i := 1; i < len(means); i++ {
		switch d := means[i] - means[i-1]; {
		case d > temporalDelta:
			pattern.WriteByte('U')
		case d < -temporalDelta:
			pattern.WriteByte('D')
		default:
			pattern.WriteByte('S')
		}
	}
	sum := md5.Sum([]byte(pattern.String()))
	return hex.EncodeToString(sum[:])[:8]
}

func meanBrightness(frame []byte) float64 {
	if len(frame) == 0 {
		return neutral
	}
	var sum int
	for _, b := range frame {
		sum += int(b)
	}
	return float64(sum) / float64(len(frame))
}

// Similarity compares two hex hashes bit by bit. The shorter expansion is
// left-padded with zeros. Invalid input scores 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ba, ok := expandBits(a)
	if !ok {
		return 0
	}
	bb, ok := expandBits(b)
	if !ok {
		return 0
	}

	n := len(ba)
	if len(bb) > n {
		n = len(bb)
	}
	ba = padLeft(ba, n)
	bb = padLeft(bb, n)

	diff := 0
	for i := 0; i < n; i++ {
		if ba[i] != bb[i] {
			diff++
		}
	}
	return 1 - float64(diff)/float64(n)
}

func expandBits(h string) ([]byte, bool) {
	bits := make([]byte, 0, len(h)*4)
	for _, c := range strings.ToLower(h) {
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = byte(c - '0')
		case c >= 'a' && c <= 'f':
			v = byte(c-'a') + 10
		default:
			return nil, false
		}
		for shift := 3; shift >= 0; shift-- {
			bits = append(bits, (v>>uint(shift))&1)
		}
	}
	return bits, true
}

func padLeft(bits []byte, n int) []byte {
	if len(bits) >= n {
		return bits
	}
	out := make([]byte, n-len(bits), n)
	return append(out, bits...)
}
