package trap

import (
	"fmt"
	"strconv"

	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

const (
	temporalStrength = 0.007
	echoBaseMS       = 0.5
	phaserBaseHz     = 0.3
)

// Layers toggles the individual trap layers
type Layers struct {
	Pixel       bool
	Temporal    bool
	Audio       bool
	Compression bool
	Metadata    bool
	Neural      bool
}

// keySeed reads the first 8 hex chars of a layer key
func keySeed(key string) uint64 {
	if len(key) > 8 {
		key = key[:8]
	}
	v, _ := strconv.ParseUint(key, 16, 64)
	return v
}

// pixelDrift shifts brightness by a user-specific offset and adds a
// user-seeded component noise
func pixelDrift(sig *models.TrapSignature) []string {
	seed := keySeed(sig.Keys.Pixel)
	beta := (float64(seed%200) - 100) / 10000
	k := seed%50 + 1
	return []string{
		fmt.Sprintf("eq=brightness=%.6f", beta),
		fmt.Sprintf("noise=c0s=%d:c0f=t+u:alls=3:allf=t+u", k),
	}
}

// temporalNoise modulates brightness and contrast with frame-indexed sinusoids
func temporalNoise(sig *models.TrapSignature) string {
	seed := keySeed(sig.Keys.Temporal)
	freq := 0.05 + float64(seed%100)/2000
	phase := float64(seed%1000) / 1000 * 6.28
	return fmt.Sprintf(
		"eq=brightness='%.5f*sin(%.5f*n+%.4f)':contrast='1+%.5f*cos(%.5f*n+%.4f)':eval=frame",
		temporalStrength, freq, phase,
		temporalStrength*0.3, freq*1.3, phase,
	)
}

// audioPhase adds a sub-millisecond echo, a slow phaser and an ultrasonic
// equaliser touch
func audioPhase(sig *models.TrapSignature) string {
	seed := keySeed(sig.Keys.Audio)
	echoDelay := echoBaseMS + float64(seed%10)/100
	echoDecay := 0.01 + float64(seed%5)/1000
	speed := phaserBaseHz + float64(seed%50)/100
	freq := 18000 + seed%2000
	return fmt.Sprintf(
		"aecho=1:1:%.3f:%.4f,aphaser=in_gain=1:out_gain=1:type=t:speed=%.2f:decay=0.1,equalizer=f=%d:t=q:w=1:g=0.5",
		echoDelay, echoDecay, speed, freq,
	)
}

// compression derives the GOP, B-frame and rate-control choices
type compression struct {
	Keyint    int
	MinKeyint int
	BFrames   int
	Refs      int
	QComp     float64
	AQ        int
}

func compressionFor(sig *models.TrapSignature) compression {
	seed := keySeed(sig.Keys.Compression)
	return compression{
		Keyint:    30 + int(seed%20),
		MinKeyint: 1 + int(seed%5),
		BFrames:   2 + int(seed%4),
		Refs:      3 + int(seed%3),
		QComp:     0.6 + float64(seed%20)/100,
		AQ:        int(seed % 10),
	}
}

func (c compression) x264Params() string {
	return fmt.Sprintf("keyint=%d:min-keyint=%d:bframes=%d:ref=%d:qcomp=%.2f:aq-mode=2:aq-strength=1.%d",
		c.Keyint, c.MinKeyint, c.BFrames, c.Refs, c.QComp, c.AQ)
}

func (c compression) apply(enc *planner.Encoder) {
	enc.GOP = c.Keyint
	enc.BFrames = c.BFrames
	enc.Refs = c.Refs
	enc.X264Params = c.x264Params()
}

// ghostTags are the metadata fields carrying the owner id and signature prefix
func ghostTags(sig *models.TrapSignature) [][2]string {
	full := sig.FullSignature
	salt := sig.Salt
	if len(salt) > 6 {
		salt = salt[:6]
	}
	return [][2]string{
		{"encoder", fmt.Sprintf("Virex Pro v3.2 (id:%d)", sig.UserID)},
		{"comment", VTrapPrefix + full[:16]},
		{"software", "VideoProcessor-" + sig.Keys.Metadata[:8]},
		{"handler_name", fmt.Sprintf("Virex-%d", sig.UserID%10000)},
		{"author", fmt.Sprintf("u%d", sig.UserID)},
		{"copyright", "VTRAP-" + full[:8]},
		{"artist", "x" + salt},
		{"album", fmt.Sprintf("VIREX_%d", sig.Timestamp%100000)},
		{"grouping", "VX" + sig.Keys.Metadata[8:14]},
		{"description", "Processed by Virex Watermark-Trap System. ID: " + full[:12]},
	}
}

// neuralPattern produces a faint blurred noise texture whose blur radius is
// user specific
func neuralPattern(sig *models.TrapSignature) []string {
	seed := keySeed(sig.Keys.Neural)
	return []string{
		fmt.Sprintf("noise=alls=%d:allf=t+u", 1+seed%2),
		fmt.Sprintf("gblur=sigma=%.2f", 0.3+float64(seed%5)/100),
	}
}

// embed adds the enabled layers to recipe
func (l Layers) embed(recipe *planner.Recipe, sig *models.TrapSignature) {
	if l.Pixel {
		recipe.AddTrapVideo(pixelDrift(sig)...)
	}
	if l.Temporal {
		recipe.AddTrapVideo(temporalNoise(sig))
	}
	if l.Audio && recipe.HasAudio {
		recipe.Audio = append(recipe.Audio, audioPhase(sig))
	}
	if l.Compression {
		compressionFor(sig).apply(&recipe.Encoder)
	}
	if l.Metadata {
		recipe.Encoder.Metadata = append(recipe.Encoder.Metadata, ghostTags(sig)...)
	}
	if l.Neural {
		recipe.AddTrapVideo(neuralPattern(sig)...)
	}
}
