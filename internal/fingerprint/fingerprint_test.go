package fingerprint

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
)

type fakeFrames struct {
	mu       sync.Mutex
	duration float64
	durErr   error
	// brightness returns the grey level of the frame at offset
	brightness func(at float64) byte
	grabErr    error
	sampled    []byte
	sampleErr  error
	offsets    []float64
}

func (f *fakeFrames) Duration(context.Context, string) (float64, error) {
	return f.duration, f.durErr
}

func (f *fakeFrames) GrabFrame(_ context.Context, _ string, at float64, size int) ([]byte, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, at)
	f.mu.Unlock()
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	return bytes.Repeat([]byte{f.brightness(at)}, size*size), nil
}

func (f *fakeFrames) SampleFrames(context.Context, string, float64, int, int) ([]byte, error) {
	return f.sampled, f.sampleErr
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileHash(t *testing.T) {
	data := bytes.Repeat([]byte("virex"), 10000)
	path := writeFile(t, data)

	got, err := FileHash(path)
	require.NoError(t, err)
	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), got)

	_, err = FileHash(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPerceptualHash(t *testing.T) {
	// first half dark, second half bright
	frames := &fakeFrames{
		duration: 64,
		brightness: func(at float64) byte {
			if at < 32 {
				return 10
			}
			return 200
		},
	}
	fp := New(frames, logging.Nop())

	h, err := fp.PerceptualHash(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "00000000ffffffff", h)
	assert.Len(t, frames.offsets, 64)
	assert.Contains(t, frames.offsets, 63.0)

	again, err := fp.PerceptualHash(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Equal(t, h, again)
}

func TestPerceptualHashFallbacks(t *testing.T) {
	frames := &fakeFrames{durErr: errors.New("probe failed"), grabErr: errors.New("no frame")}
	fp := New(frames, logging.Nop())

	h, err := fp.PerceptualHash(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000", h, "uniform samples never exceed their mean")
	for _, at := range frames.offsets {
		assert.Less(t, at, fallbackDuration)
	}
}

func TestPerceptualHashCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fp := New(&fakeFrames{duration: 10, grabErr: context.Canceled}, logging.Nop())

	_, err := fp.PerceptualHash(ctx, "video.mp4")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTemporalSignature(t *testing.T) {
	levels := []byte{100, 100, 120, 90}
	var raw []byte
	for _, l := range levels {
		raw = append(raw, bytes.Repeat([]byte{l}, 16)...)
	}
	// pad to 32 frames at the last level
	for i := len(levels); i < temporalFrames; i++ {
		raw = append(raw, bytes.Repeat([]byte{90}, 16)...)
	}

	fp := New(&fakeFrames{sampled: raw}, logging.Nop())
	sig, err := fp.TemporalSignature(context.Background(), "video.mp4")
	require.NoError(t, err)

	pattern := "SUD" + strings.Repeat("S", 28)
	sum := md5.Sum([]byte(pattern))
	assert.Equal(t, hex.EncodeToString(sum[:])[:8], sig)
}

func TestTemporalSignatureShortInput(t *testing.T) {
	fp := New(&fakeFrames{sampled: make([]byte, 16)}, logging.Nop())
	sig, err := fp.TemporalSignature(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Equal(t, EmptyTemporal, sig)

	fp = New(&fakeFrames{sampleErr: errors.New("ffmpeg failed")}, logging.Nop())
	sig, err = fp.TemporalSignature(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Equal(t, EmptyTemporal, sig)
}

func TestTemporalSignatureCountsWholeFrames(t *testing.T) {
	raw := append(bytes.Repeat([]byte{100}, 16), bytes.Repeat([]byte{130}, 16)...)
	raw = append(raw, make([]byte, 8)...)

	fp := New(&fakeFrames{sampled: raw}, logging.Nop())
	sig, err := fp.TemporalSignature(context.Background(), "video.mp4")
	require.NoError(t, err)
	sum := md5.Sum([]byte("U"))
	assert.Equal(t, hex.EncodeToString(sum[:])[:8], sig, "the partial third frame is dropped")

	fp = New(&fakeFrames{sampled: bytes.Repeat([]byte{100}, 31)}, logging.Nop())
	sig, err = fp.TemporalSignature(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.Equal(t, EmptyTemporal, sig, "one whole frame has no trend")
}

func TestCompute(t *testing.T) {
	path := writeFile(t, []byte("payload"))
	fp := New(&fakeFrames{duration: 8, brightness: func(float64) byte { return 50 }}, logging.Nop())

	set, err := fp.Compute(context.Background(), path)
	require.NoError(t, err)
	want := sha256.Sum256([]byte("payload"))
	assert.Equal(t, hex.EncodeToString(want[:]), set.FileHash)
	assert.Len(t, set.Perceptual, 16)
	assert.Equal(t, EmptyTemporal, set.TemporalSig)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "ffff0000ffff0000", "ffff0000ffff0000", 1},
		{"empty", "", "ffff", 0},
		{"inverse", "0000000000000000", "ffffffffffffffff", 0},
		{"one nibble", "000000000000000f", "0000000000000000", 1 - 4.0/64},
		{"case insensitive", "ABCD", "abcd", 1},
		{"different lengths pad left", "f", "0f", 1},
		{"invalid hex", "zz", "00", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}
