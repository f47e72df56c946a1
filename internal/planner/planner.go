package planner

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// MaxFPS caps the output frame rate
const MaxFPS = 120.0

// HookTexts is the corpus drawn from for the text overlay
var HookTexts = []string{
	"Wait for it...",
	"You need to see this",
	"Watch till the end",
	"POV",
	"This is crazy",
	"No way...",
	"Trust me on this",
	"Story time",
	"Here is the thing",
	"Let me show you",
	"Check this out",
	"You will not believe",
	"Real talk",
	"Plot twist",
	"Warning",
	"Unpopular opinion",
	"Facts only",
	"Listen up",
	"Game changer",
	"Life hack",
}

// Source describes the probed input
type Source struct {
	Width    int
	Height   int
	Duration float64
	FPS      float64
	HasAudio bool
}

// Options are the user-facing choices for one job
type Options struct {
	Mode        models.Mode
	Quality     models.Quality
	TextOverlay bool
	Template    string
}

type span struct {
	lo, hi float64
}

type ispan struct {
	lo, hi int
}

type modeParams struct {
	crop         span
	speed        span
	zoom         span
	microCrop    ispan
	brightness   float64
	contrast     span
	saturation   span
	gamma        span
	grain        ispan
	vignetteProb float64
	vignetteMax  float64
	blurSigma    string
	unsharp      string
	fontScale    float64
	shadowAlpha  string
	volume       span
	resample     bool
	gop          ispan
	bitrate      ispan
	crf          ispan
	presets      []string
}

var modes = map[models.Mode]modeParams{
	models.ModeTikTok: {
		crop:         span{0.94, 0.965},
		speed:        span{0.965, 1.035},
		zoom:         span{1.02, 1.05},
		microCrop:    ispan{2, 4},
		brightness:   0.06,
		contrast:     span{0.94, 1.06},
		saturation:   span{0.94, 1.06},
		gamma:        span{0.96, 1.04},
		grain:        ispan{5, 12},
		vignetteProb: 0.7,
		vignetteMax:  0.45,
		blurSigma:    "0.4",
		unsharp:      "unsharp=3:3:0.7:3:3:0.0",
		fontScale:    0.05,
		shadowAlpha:  "0.8",
		volume:       span{0.97, 1.03},
		gop:          ispan{12, 45},
		bitrate:      ispan{20000, 100000},
		crf:          ispan{18, 22},
		presets:      []string{"slow", "slower"},
	},
	models.ModeYouTube: {
		crop:         span{0.95, 0.975},
		speed:        span{0.965, 1.035},
		zoom:         span{1.02, 1.04},
		microCrop:    ispan{2, 3},
		brightness:   0.05,
		contrast:     span{0.95, 1.05},
		saturation:   span{0.95, 1.05},
		gamma:        span{0.97, 1.03},
		grain:        ispan{4, 8},
		vignetteProb: 0.6,
		vignetteMax:  0.40,
		blurSigma:    "0.35",
		unsharp:      "unsharp=3:3:0.6:3:3:0.0",
		fontScale:    0.045,
		shadowAlpha:  "0.7",
		volume:       span{0.96, 1.04},
		resample:     true,
		gop:          ispan{15, 40},
		bitrate:      ispan{30000, 150000},
		crf:          ispan{17, 20},
		presets:      []string{"slow", "slower"},
	},
}

type qualityParams struct {
	crfOffset   int
	bitrateMult float64
	preset      string
	noiseMult   float64
}

var qualities = map[models.Quality]qualityParams{
	models.QualityLow:    {crfOffset: 6, bitrateMult: 0.5, preset: "fast", noiseMult: 1.5},
	models.QualityMedium: {crfOffset: 3, bitrateMult: 0.75, preset: "medium", noiseMult: 1.0},
	models.QualityMax:    {crfOffset: 0, bitrateMult: 1.0, noiseMult: 0.8},
}

var audioEQ = []string{
	"",
	"lowshelf=g=1.5:f=200",
	"highshelf=g=-1.5:f=3500",
	"equalizer=f=1000:t=q:w=1:g=2",
}

// Planner turns a probed source and user options into a randomised recipe
type Planner struct {
	maxFilterLength int
	audioBitrate    string
	now             func() time.Time
}

// New creates a planner. maxFilterLength bounds the video filter string.
func New(maxFilterLength int, audioBitrate string) *Planner {
	if audioBitrate == "" {
		audioBitrate = "320k"
	}
	return &Planner{
		maxFilterLength: maxFilterLength,
		audioBitrate:    audioBitrate,
		now:             time.Now,
	}
}

// WithClock overrides the clock used for the creation_time tag
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// MaxFilterLength returns the configured bound
func (p *Planner) MaxFilterLength() int {
	return p.maxFilterLength
}

// NewSeed draws a fresh recipe seed
func NewSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

type prng struct {
	r *mrand.Rand
}

func newPRNG(seed uint64) *prng {
	return &prng{r: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *prng) uniform(lo, hi float64) float64 {
	return lo + g.r.Float64()*(hi-lo)
}

// intn returns an integer in [lo, hi]
func (g *prng) intn(lo, hi int) int {
	return lo + g.r.IntN(hi-lo+1)
}

func (g *prng) chance(p float64) bool {
	return g.r.Float64() < p
}

func (g *prng) pick(options []string) string {
	return options[g.r.IntN(len(options))]
}

// Plan builds a recipe. The same seed, source, options and clock always
// produce the same recipe.
func (p *Planner) Plan(src Source, opts Options, seed uint64) *Recipe {
	mp, ok := modes[opts.Mode]
	if !ok {
		mp = modes[models.ModeTikTok]
		opts.Mode = models.ModeTikTok
	}
	qp, ok := qualities[opts.Quality]
	if !ok {
		qp = qualities[models.QualityMedium]
		opts.Quality = models.QualityMedium
	}
	if opts.Template == "" {
		opts.Template = TemplateNone
	}

	width, height := src.Width, src.Height
	if width <= 0 || height <= 0 {
		width, height = 1080, 1920
	}
	fps := src.FPS
	if fps <= 0 {
		fps = 30
	}
	fps = math.Min(fps, MaxFPS)

	g := newPRNG(seed)
	r := &Recipe{
		Seed:     seed,
		Mode:     string(opts.Mode),
		Quality:  string(opts.Quality),
		Template: opts.Template,
		Width:    width,
		Height:   height,
		FPS:      fps,
		HasAudio: src.HasAudio,
	}

	tpl, _ := LookupTemplate(opts.Template)
	if tpl != nil && tpl.Name == TemplateNone {
		tpl = nil
	}
	if ts := tpl.Speed(); ts != 1.0 {
		r.AddVideo(keep, fmt.Sprintf("setpts=%.6f*PTS", 1/ts))
	}

	// watermark crop, rescaled back to the source size
	crop := g.uniform(mp.crop.lo, mp.crop.hi)
	cw, ch := int(float64(width)*crop), int(float64(height)*crop)
	r.AddVideo(keep,
		fmt.Sprintf("crop=%d:%d:%d:%d", cw, ch, (width-cw)/2, (height-ch)/2),
		fmt.Sprintf("scale=%d:%d:flags=lanczos", width, height),
	)

	speed := g.uniform(mp.speed.lo, mp.speed.hi)
	r.Speed = speed
	r.AddVideo(keep, fmt.Sprintf("setpts=%.6f*PTS", 1/speed))

	// forced motion: zoom then a few pixels of micro-crop
	zoom := g.uniform(mp.zoom.lo, mp.zoom.hi)
	r.AddVideo(keep,
		fmt.Sprintf("scale=%d:%d:flags=lanczos", int(float64(width)*zoom), int(float64(height)*zoom)),
		fmt.Sprintf("crop=%d:%d", width, height),
	)
	shake := g.intn(mp.microCrop.lo, mp.microCrop.hi)
	r.AddVideo(dropMicroCrop, fmt.Sprintf("crop=w=iw-%d:h=ih-%d,scale=%d:%d:flags=lanczos", 2*shake, 2*shake, width, height))

	r.AddVideo(keep, fmt.Sprintf("eq=brightness=%.4f:contrast=%.4f:saturation=%.4f:gamma=%.4f",
		g.uniform(-mp.brightness, mp.brightness),
		g.uniform(mp.contrast.lo, mp.contrast.hi),
		g.uniform(mp.saturation.lo, mp.saturation.hi),
		g.uniform(mp.gamma.lo, mp.gamma.hi),
	))

	grain := int(math.Round(float64(g.intn(mp.grain.lo, mp.grain.hi)) * qp.noiseMult))
	r.AddVideo(dropGrain, fmt.Sprintf("noise=alls=%d:allf=t+u", grain))

	vignette := g.chance(mp.vignetteProb)
	angle := g.uniform(0.25, mp.vignetteMax)
	if vignette {
		r.AddVideo(dropVignette, fmt.Sprintf("vignette=angle=%.4f:mode=forward", angle))
	}

	if g.chance(0.5) {
		r.AddVideo(dropBlur, "gblur=sigma="+mp.blurSigma)
	} else {
		r.AddVideo(dropBlur, mp.unsharp)
	}

	if tpl != nil {
		r.AddVideo(dropTemplate, tpl.Filters(width, height)...)
	}

	hook := g.pick(HookTexts)
	if opts.TextOverlay {
		r.Hook = hook
		fontSize := int(float64(min(width, height)) * mp.fontScale)
		r.AddVideo(keep, fmt.Sprintf(
			"drawtext=text=%s:fontsize=%d:fontcolor=white:shadowcolor=black@%s:shadowx=2:shadowy=2:x=(w-text_w)/2:y=h-th-50:expansion=none",
			EscapeDrawtext(hook), fontSize, mp.shadowAlpha))
	}

	r.AddVideo(keep, "fps="+num(math.Round(fps*1000)/1000))

	// audio follows the video tempo
	var audio []string
	if ts := tpl.Speed(); ts != 1.0 {
		audio = append(audio, "atempo="+num(ts))
	}
	if mp.resample {
		audio = append(audio, "aresample=48000")
	}
	audio = append(audio,
		fmt.Sprintf("atempo=%.4f", speed),
		fmt.Sprintf("volume=%.4f", g.uniform(mp.volume.lo, mp.volume.hi)),
	)
	if mp.resample {
		audio = append(audio, "highpass=f=25", "lowpass=f=17000")
	}
	if eq := audioEQ[g.r.IntN(len(audioEQ))]; eq != "" {
		audio = append(audio, eq)
	}
	r.Audio = audio

	r.Encoder = p.encoder(g, mp, qp, width, height)
	r.Fit(p.maxFilterLength)
	return r
}

func (p *Planner) encoder(g *prng, mp modeParams, qp qualityParams, width, height int) Encoder {
	gop := g.intn(mp.gop.lo, mp.gop.hi)
	bitrate := int(float64(g.intn(mp.bitrate.lo, mp.bitrate.hi)) * qp.bitrateMult)
	crf := g.intn(mp.crf.lo, mp.crf.hi) + qp.crfOffset
	preset := qp.preset
	listPreset := g.pick(mp.presets)
	if preset == "" {
		preset = listPreset
	}
	profile := g.pick([]string{"main", "high"})
	level := g.pick([]string{"4.0", "4.1", "4.2"})
	switch pixels := width * height; {
	case pixels > 3840*2160:
		level = "6.2"
	case pixels > 1920*1080:
		level = "5.2"
	}

	back := time.Duration(g.intn(1, 30))*24*time.Hour +
		time.Duration(g.intn(0, 23))*time.Hour +
		time.Duration(g.intn(0, 59))*time.Minute +
		time.Duration(g.intn(0, 59))*time.Second

	return Encoder{
		Profile:      profile,
		Level:        level,
		Preset:       preset,
		CRF:          crf,
		BitrateK:     bitrate,
		GOP:          gop,
		AudioBitrate: p.audioBitrate,
		CreationTime: p.now().UTC().Add(-back).Format("2006-01-02T15:04:05.000000Z"),
	}
}
