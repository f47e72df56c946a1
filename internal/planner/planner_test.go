package planner

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPlanner() *Planner {
	return New(8192, "320k").WithClock(func() time.Time { return fixedNow })
}

func hd() Source {
	return Source{Width: 1920, Height: 1080, Duration: 30, FPS: 30, HasAudio: true}
}

func TestPlanHappyPathTikTok(t *testing.T) {
	p := newTestPlanner()

	for seed := uint64(1); seed <= 50; seed++ {
		r := p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMedium, TextOverlay: true}, seed)
		vf := r.VideoFilter()

		assert.True(t, strings.HasSuffix(vf, ","+FinalStage), "format must be the last stage")
		assert.Equal(t, 1, strings.Count(vf, "drawtext="))
		assert.Equal(t, 1, strings.Count(vf, "fps=30,"))
		assert.LessOrEqual(t, len(vf), 8192)

		m := regexp.MustCompile(`^crop=(\d+):(\d+):(\d+):(\d+),scale=1920:1080:flags=lanczos`).FindStringSubmatch(vf)
		require.NotNil(t, m, vf)
		cw, _ := strconv.Atoi(m[1])
		factor := float64(cw) / 1920
		assert.GreaterOrEqual(t, factor, 0.94-0.001)
		assert.LessOrEqual(t, factor, 0.965)
	}
}

func TestPlanIsDeterministicPerSeed(t *testing.T) {
	p := newTestPlanner()
	opts := Options{Mode: models.ModeYouTube, Quality: models.QualityMax, TextOverlay: true, Template: "cinema"}

	a := p.Plan(hd(), opts, 42)
	b := p.Plan(hd(), opts, 42)
	assert.Equal(t, a.VideoFilter(), b.VideoFilter())
	assert.Equal(t, a.AudioFilter(), b.AudioFilter())
	assert.Equal(t, a.Encoder, b.Encoder)
	assert.Equal(t, uint64(42), a.Seed)
}

func TestPlanIsRandomisedAcrossSeeds(t *testing.T) {
	p := newTestPlanner()
	opts := Options{Mode: models.ModeTikTok, Quality: models.QualityMedium}

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		seen[p.Plan(hd(), opts, NewSeed()).VideoFilter()] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestPlanRanges(t *testing.T) {
	p := newTestPlanner()
	eqRe := regexp.MustCompile(`eq=brightness=(-?[\d.]+):contrast=([\d.]+):saturation=([\d.]+):gamma=([\d.]+)`)
	noiseRe := regexp.MustCompile(`noise=alls=(\d+):allf=t\+u`)
	atempoRe := regexp.MustCompile(`atempo=([\d.]+)`)
	volumeRe := regexp.MustCompile(`volume=([\d.]+)`)

	tests := []struct {
		mode             models.Mode
		bright           float64
		grainLo, grainHi int
		volLo, volHi     float64
		crfLo, crfHi     int
	}{
		{models.ModeTikTok, 0.06, 5, 12, 0.97, 1.03, 18, 22},
		{models.ModeYouTube, 0.05, 4, 8, 0.96, 1.04, 17, 20},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			for seed := uint64(0); seed < 100; seed++ {
				r := p.Plan(hd(), Options{Mode: tt.mode, Quality: models.QualityMax}, seed)
				vf := r.VideoFilter()

				m := eqRe.FindStringSubmatch(vf)
				require.NotNil(t, m)
				b, _ := strconv.ParseFloat(m[1], 64)
				assert.LessOrEqual(t, b, tt.bright+1e-4)
				assert.GreaterOrEqual(t, b, -tt.bright-1e-4)

				n := noiseRe.FindStringSubmatch(vf)
				require.NotNil(t, n)
				grain, _ := strconv.Atoi(n[1])
				// max quality scales grain by 0.8
				assert.GreaterOrEqual(t, grain, int(float64(tt.grainLo)*0.8))
				assert.LessOrEqual(t, grain, tt.grainHi)

				af := r.AudioFilter()
				at := atempoRe.FindStringSubmatch(af)
				require.NotNil(t, at)
				speed, _ := strconv.ParseFloat(at[1], 64)
				assert.InDelta(t, 1.0, speed, 0.0351)

				v := volumeRe.FindStringSubmatch(af)
				require.NotNil(t, v)
				vol, _ := strconv.ParseFloat(v[1], 64)
				assert.GreaterOrEqual(t, vol, tt.volLo-1e-4)
				assert.LessOrEqual(t, vol, tt.volHi+1e-4)

				e := r.Encoder
				assert.GreaterOrEqual(t, e.CRF, tt.crfLo)
				assert.LessOrEqual(t, e.CRF, tt.crfHi)
				assert.GreaterOrEqual(t, e.GOP, 12)
				assert.LessOrEqual(t, e.GOP, 45)
				assert.Contains(t, []string{"main", "high"}, e.Profile)
				assert.Contains(t, []string{"slow", "slower"}, e.Preset)
			}
		})
	}
}

func TestPlanYouTubeAudioChain(t *testing.T) {
	r := newTestPlanner().Plan(hd(), Options{Mode: models.ModeYouTube, Quality: models.QualityLow}, 7)
	af := r.AudioFilter()

	assert.True(t, strings.HasPrefix(af, "aresample=48000,atempo="))
	assert.Contains(t, af, "highpass=f=25,lowpass=f=17000")
}

func TestPlanQualityPresets(t *testing.T) {
	p := newTestPlanner()

	low := p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityLow}, 3)
	assert.Equal(t, "fast", low.Encoder.Preset)
	assert.GreaterOrEqual(t, low.Encoder.CRF, 24)
	assert.LessOrEqual(t, low.Encoder.BitrateK, 50000)

	med := p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMedium}, 3)
	assert.Equal(t, "medium", med.Encoder.Preset)
	assert.GreaterOrEqual(t, med.Encoder.CRF, 21)
}

func TestPlanTextOverlayOff(t *testing.T) {
	r := newTestPlanner().Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax, TextOverlay: false}, 9)
	assert.NotContains(t, r.VideoFilter(), "drawtext")
	assert.Empty(t, r.Hook)
}

func TestPlanFPSCap(t *testing.T) {
	p := newTestPlanner()

	r := p.Plan(Source{Width: 1080, Height: 1920, FPS: 240, HasAudio: true}, Options{Mode: models.ModeTikTok, Quality: models.QualityMax}, 1)
	assert.Contains(t, r.VideoFilter(), ",fps=120,")

	r = p.Plan(Source{Width: 1080, Height: 1920, FPS: 29.97002997}, Options{Mode: models.ModeTikTok, Quality: models.QualityMax}, 1)
	assert.Contains(t, r.VideoFilter(), ",fps=29.97,")

	r = p.Plan(Source{}, Options{Mode: models.ModeTikTok, Quality: models.QualityMax}, 1)
	assert.Contains(t, r.VideoFilter(), ",fps=30,")
}

func TestPlanLevelByResolution(t *testing.T) {
	p := newTestPlanner()
	opts := Options{Mode: models.ModeTikTok, Quality: models.QualityMax}

	r := p.Plan(Source{Width: 1080, Height: 1920, FPS: 30}, opts, 5)
	assert.Contains(t, []string{"4.0", "4.1", "4.2"}, r.Encoder.Level)

	r = p.Plan(Source{Width: 3840, Height: 2160, FPS: 30}, opts, 5)
	assert.Equal(t, "5.2", r.Encoder.Level)

	r = p.Plan(Source{Width: 7680, Height: 4320, FPS: 30}, opts, 5)
	assert.Equal(t, "6.2", r.Encoder.Level)
}

func TestPlanCreationTimeInPastMonth(t *testing.T) {
	p := newTestPlanner()
	for seed := uint64(0); seed < 30; seed++ {
		r := p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax}, seed)
		ts, err := time.Parse("2006-01-02T15:04:05.000000Z", r.Encoder.CreationTime)
		require.NoError(t, err)
		assert.True(t, ts.Before(fixedNow.Add(-24*time.Hour+time.Second)))
		assert.True(t, ts.After(fixedNow.Add(-32*24*time.Hour)))
	}
}

func TestPlanTemplateLayering(t *testing.T) {
	p := newTestPlanner()

	r := p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax, Template: "slowmo"}, 11)
	assert.True(t, strings.HasPrefix(r.VideoFilter(), "setpts=1.428571*PTS,crop="))
	assert.True(t, strings.HasPrefix(r.AudioFilter(), "atempo=0.7,"))

	r = p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax, Template: "cinema"}, 11)
	assert.Contains(t, r.VideoFilter(), "drawbox=x=0:y=0:w=1920:h=129:color=black:t=fill")
	assert.Contains(t, r.VideoFilter(), "eq=contrast=1.1000:saturation=0.9000")

	r = p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax, Template: "unknown"}, 11)
	assert.NotContains(t, r.VideoFilter(), "drawbox")
}

func TestFitDropsOptionalStages(t *testing.T) {
	r := newTestPlanner().Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax, TextOverlay: true, Template: "vintage"}, 13)
	full := r.VideoFilter()

	limit := len(full) - 40
	ok := r.Fit(limit)
	assert.True(t, ok)
	assert.LessOrEqual(t, len(r.VideoFilter()), limit)
	assert.True(t, strings.HasSuffix(r.VideoFilter(), FinalStage))
	assert.Contains(t, r.VideoFilter(), "drawtext=")

	// mandatory stages alone cannot fit in a tiny budget
	assert.False(t, r.Fit(50))
	assert.Contains(t, r.VideoFilter(), "eq=brightness")
}

func TestPlanRespectsMaxFilterLength(t *testing.T) {
	p := New(420, "320k")
	r := p.Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMax, TextOverlay: true, Template: "cyberpunk"}, 1)
	assert.LessOrEqual(t, len(r.VideoFilter()), 420)
}

func TestArgs(t *testing.T) {
	r := newTestPlanner().Plan(hd(), Options{Mode: models.ModeTikTok, Quality: models.QualityMedium, TextOverlay: true}, 21)
	args := r.Args("/tmp/in.mp4", "/tmp/out.mp4")
	joined := strings.Join(args, " ")

	assert.Equal(t, []string{"-y", "-i", "/tmp/in.mp4", "-vf"}, args[:4])
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
	assert.Contains(t, joined, "-c:v libx264 -profile:v "+r.Encoder.Profile)
	assert.Contains(t, joined, "-maxrate "+strconv.Itoa(r.Encoder.BitrateK)+"k -bufsize "+strconv.Itoa(2*r.Encoder.BitrateK)+"k")
	assert.Contains(t, joined, "-keyint_min "+strconv.Itoa(r.Encoder.GOP/2)+" -sc_threshold 0")
	assert.Contains(t, joined, "-c:a aac -b:a 320k -ar 48000")
	assert.Contains(t, joined, "-map_metadata -1 -metadata creation_time=")
	assert.Contains(t, joined, "-fflags +bitexact+genpts -flags:v +bitexact -flags:a +bitexact -movflags +faststart")

	r.HasAudio = false
	args = r.Args("in", "out")
	assert.NotContains(t, args, "-af")
	assert.Contains(t, args, "-an")
}

func TestEscapeDrawtext(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"POV", "POV"},
		{"Wait for it...", "Wait for it..."},
		{"a:b", `a\\:b`},
		{"it's", `it\\\'s`},
		{"x,y;z", `x\,y\;z`},
		{"[tag]", `\[tag\]`},
		{`back\slash`, `back\\\\slash`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeDrawtext(tt.in), tt.in)
	}
}

func TestTemplatesCatalogue(t *testing.T) {
	assert.Len(t, Templates, 41)

	names := map[string]bool{}
	for _, tpl := range Templates {
		assert.False(t, names[tpl.Name], "duplicate template %s", tpl.Name)
		names[tpl.Name] = true
	}

	none, ok := LookupTemplate(TemplateNone)
	require.True(t, ok)
	assert.Empty(t, none.Filters(1080, 1920))

	glitch, ok := LookupTemplate("glitch")
	require.True(t, ok)
	assert.True(t, glitch.Premium)
	assert.Contains(t, glitch.Filters(1080, 1920), "crop=w=iw-6:h=ih-6:x=3+3*sin(15*t):y=3+3*sin(17*t),scale=1080:1920:flags=lanczos")

	winter, _ := LookupTemplate("winter")
	assert.Contains(t, winter.Filters(1080, 1920), "colorbalance=rs=-0.1:gs=-0.05:bs=0.1")

	noir, _ := LookupTemplate("noir")
	assert.Contains(t, noir.Filters(1080, 1920)[0], "saturation=0.0000")

	neon, _ := LookupTemplate("neon")
	assert.Contains(t, neon.Filters(1080, 1920), "unsharp=5:5:-0.6:5:5:-0.6")

	var missing *Template
	assert.Equal(t, 1.0, missing.Speed())
}
