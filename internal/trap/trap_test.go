package trap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeProber struct {
	tags map[string]string
	err  error
}

func (f *fakeProber) ProbeMetadata(context.Context, string) (*transcoder.Metadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &transcoder.Metadata{Format: transcoder.FormatInfo{Tags: f.tags}}, nil
}

func allLayers() config.TrapConfig {
	return config.TrapConfig{
		Secret:      "test-secret",
		Pixel:       true,
		Temporal:    true,
		Audio:       true,
		Compression: true,
		Metadata:    true,
		Neural:      true,
	}
}

func newTestTrap(t *testing.T, dir string, prober MetadataProber) *Trap {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if prober == nil {
		prober = &fakeProber{}
	}
	tr, err := New(allLayers(), config.DataConfig{Dir: dir}, prober, logging.Nop())
	require.NoError(t, err)
	tr.WithClock(func() time.Time { return fixedNow })
	t.Cleanup(func() { tr.Close() })
	return tr
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func testRecipe(hasAudio bool) *planner.Recipe {
	p := planner.New(8192, "192k")
	src := planner.Source{Width: 1080, Height: 1920, Duration: 20, FPS: 30, HasAudio: hasAudio}
	return p.Plan(src, planner.Options{Mode: models.ModeTikTok, Quality: models.QualityMedium}, 7)
}

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestSignDerivesKeys(t *testing.T) {
	tr := newTestTrap(t, "", nil)
	tr.rand = bytes.NewReader(bytes.Repeat([]byte{0xab}, 64))
	input := writeFile(t, "in.mp4", []byte("input video"))

	sig, err := tr.Sign(42, input)
	require.NoError(t, err)

	assert.Equal(t, int64(42), sig.UserID)
	assert.Equal(t, fixedNow.Unix(), sig.Timestamp)
	assert.Equal(t, strings.Repeat("ab", saltBytes), sig.Salt)
	assert.Len(t, sig.FullSignature, 64)
	for _, k := range []string{sig.Keys.Pixel, sig.Keys.Temporal, sig.Keys.Audio, sig.Keys.Compression, sig.Keys.Metadata, sig.Keys.Neural} {
		assert.Regexp(t, hex32, k)
	}
	assert.NotEqual(t, sig.Keys.Pixel, sig.Keys.Neural)

	again := *sig
	tr.derive(&again)
	assert.Equal(t, sig.FullSignature, again.FullSignature, "derivation is deterministic")

	other := *sig
	other.UserID = 43
	tr.derive(&other)
	assert.NotEqual(t, sig.FullSignature, other.FullSignature)
}

func TestApplyEmbedsEveryLayer(t *testing.T) {
	tr := newTestTrap(t, "", nil)
	input := writeFile(t, "in.mp4", []byte("input video"))
	recipe := testRecipe(true)
	before := len(recipe.Video)
	audioBefore := len(recipe.Audio)

	sig, err := tr.Apply(5, input, recipe)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Len())

	// pixel eq+noise, temporal eq, neural noise+gblur
	assert.Len(t, recipe.Video, before+5)
	vf := recipe.VideoFilter()
	assert.True(t, strings.HasSuffix(vf, ","+planner.FinalStage))
	assert.Contains(t, vf, "noise=c0s=")
	assert.Contains(t, vf, "eval=frame")
	assert.Contains(t, vf, "gblur=sigma=")

	require.Len(t, recipe.Audio, audioBefore+1)
	assert.True(t, strings.HasPrefix(recipe.Audio[len(recipe.Audio)-1], "aecho="))

	c := compressionFor(sig)
	assert.Equal(t, c.Keyint, recipe.Encoder.GOP)
	assert.Contains(t, recipe.Encoder.X264Params, "keyint=")
	assert.GreaterOrEqual(t, c.Keyint, 30)
	assert.Less(t, c.Keyint, 50)

	tags := map[string]string{}
	for _, kv := range recipe.Encoder.Metadata {
		tags[kv[0]] = kv[1]
	}
	assert.GreaterOrEqual(t, len(tags), 10)
	assert.Equal(t, VTrapPrefix+sig.FullSignature[:16], tags["comment"])
	assert.Contains(t, tags["encoder"], "(id:5)")

	args := strings.Join(recipe.Args("in.mp4", "out.mp4"), " ")
	assert.Contains(t, args, "-x264-params")
	assert.Contains(t, args, "comment=VTrap:")
}

func TestEmbedSkipsAudioWithoutTrack(t *testing.T) {
	tr := newTestTrap(t, "", nil)
	input := writeFile(t, "in.mp4", []byte("input video"))
	recipe := testRecipe(false)
	audioBefore := len(recipe.Audio)

	_, err := tr.Apply(5, input, recipe)
	require.NoError(t, err)
	assert.Len(t, recipe.Audio, audioBefore)
}

func TestEmbedHonoursToggles(t *testing.T) {
	cfg := allLayers()
	cfg.Pixel, cfg.Temporal, cfg.Neural, cfg.Metadata = false, false, false, false
	tr, err := New(cfg, config.DataConfig{Dir: t.TempDir()}, &fakeProber{}, logging.Nop())
	require.NoError(t, err)
	defer tr.Close()

	recipe := testRecipe(true)
	before := len(recipe.Video)
	_, err = tr.Apply(1, writeFile(t, "in.mp4", []byte("x")), recipe)
	require.NoError(t, err)
	assert.Len(t, recipe.Video, before)
	assert.Empty(t, recipe.Encoder.Metadata)
	assert.NotEmpty(t, recipe.Encoder.X264Params)
}

func TestDetectUnmodifiedOutput(t *testing.T) {
	tr := newTestTrap(t, "", nil)
	input := writeFile(t, "in.mp4", []byte("input video"))
	sig, err := tr.Apply(11, input, testRecipe(true))
	require.NoError(t, err)

	output := writeFile(t, "out.mp4", []byte("processed output"))
	require.NoError(t, tr.RecordOutput(sig.FullSignature, output))

	det, err := tr.Detect(context.Background(), output)
	require.NoError(t, err)
	assert.True(t, det.Found)
	assert.GreaterOrEqual(t, det.Confidence, 0.99)
	assert.Equal(t, int64(11), det.UserID)
	assert.Equal(t, MethodHash, det.Method)

	assert.Error(t, tr.RecordOutput("nope", output))
}

func TestDetectGhostComment(t *testing.T) {
	prober := &fakeProber{}
	tr := newTestTrap(t, "", prober)
	sig, err := tr.Apply(12, writeFile(t, "in.mp4", []byte("input")), testRecipe(true))
	require.NoError(t, err)

	prober.tags = map[string]string{
		"title":   "reupload",
		"comment": VTrapPrefix + sig.FullSignature[:16],
	}
	det, err := tr.Detect(context.Background(), writeFile(t, "copy.mp4", []byte("re-encoded copy")))
	require.NoError(t, err)
	assert.True(t, det.Found)
	assert.Equal(t, 0.95, det.Confidence)
	assert.Equal(t, int64(12), det.UserID)
	assert.Equal(t, sig.Timestamp, det.Timestamp)
	assert.Equal(t, MethodMetadata, det.Method)
}

func TestDetectEncoderID(t *testing.T) {
	prober := &fakeProber{tags: map[string]string{
		"comment": VTrapPrefix + "0000000000000000",
		"encoder": "Virex Pro v3.2 (id:777)",
	}}
	tr := newTestTrap(t, "", prober)

	det, err := tr.Detect(context.Background(), writeFile(t, "copy.mp4", []byte("copy")))
	require.NoError(t, err)
	assert.True(t, det.Found)
	assert.Equal(t, 0.85, det.Confidence)
	assert.Equal(t, int64(777), det.UserID)
	assert.Equal(t, MethodEncoder, det.Method)
}

func TestDetectNothing(t *testing.T) {
	tests := []struct {
		name   string
		prober *fakeProber
	}{
		{"no tags", &fakeProber{}},
		{"probe error", &fakeProber{err: errors.New("ffprobe failed")}},
		{"unrelated tags", &fakeProber{tags: map[string]string{"encoder": "Lavf60.3.100"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTrap(t, "", tt.prober)
			det, err := tr.Detect(context.Background(), writeFile(t, "v.mp4", []byte("clean")))
			require.NoError(t, err)
			assert.False(t, det.Found)
			assert.Zero(t, det.Confidence)
		})
	}

	tr := newTestTrap(t, "", nil)
	_, err := tr.Detect(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestSignaturesPersist(t *testing.T) {
	dir := t.TempDir()
	tr := newTestTrap(t, dir, nil)
	sig, err := tr.Apply(21, writeFile(t, "in.mp4", []byte("input")), testRecipe(true))
	require.NoError(t, err)
	output := writeFile(t, "out.mp4", []byte("output"))
	require.NoError(t, tr.RecordOutput(sig.FullSignature, output))
	require.NoError(t, tr.Flush())

	reloaded := newTestTrap(t, dir, nil)
	assert.Equal(t, 1, reloaded.Len())
	det, err := reloaded.Detect(context.Background(), output)
	require.NoError(t, err)
	assert.Equal(t, int64(21), det.UserID)
}

func TestLegacySignaturesRederived(t *testing.T) {
	dir := t.TempDir()
	legacy := `[{"user_id": 9, "video_hash": "abc", "timestamp": 1700000000, "salt": "00ff"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watermark_signatures.json"), []byte(legacy), 0o644))

	tr := newTestTrap(t, dir, nil)
	require.Equal(t, 1, tr.Len())
	sig := tr.sigs[0]
	assert.Regexp(t, hex32, sig.Keys.Metadata)
	assert.Len(t, sig.FullSignature, 64)
}

func TestQuickHash(t *testing.T) {
	small := writeFile(t, "small", []byte("abc"))
	h, err := QuickHash(small)
	require.NoError(t, err)
	assert.Regexp(t, hex32, h)

	big := bytes.Repeat([]byte{1}, 3*quickChunk)
	a := writeFile(t, "a", big)
	big[len(big)-1] = 2
	b := writeFile(t, "b", big)
	big[len(big)-1] = 1
	big[quickChunk+10] = 9
	c := writeFile(t, "c", big)

	ha, _ := QuickHash(a)
	hb, _ := QuickHash(b)
	hc, _ := QuickHash(c)
	assert.NotEqual(t, ha, hb, "tail is hashed")
	assert.Equal(t, ha, hc, "middle is skipped")
}
