package planner

import (
	"sort"
	"strconv"
	"strings"
)

// FinalStage is always the last video filter
const FinalStage = "format=yuv420p"

// Drop priorities for Recipe.Fit; higher values go first, zero never goes.
const (
	keep = iota
	dropTrap
	dropGrain
	dropMicroCrop
	dropTemplate
	dropBlur
	dropVignette
)

// Stage is one comma-separated element of the video filter chain
type Stage struct {
	Filter string
	Drop   int
}

// Encoder holds the libx264/aac parameters of a recipe
type Encoder struct {
	Profile      string
	Level        string
	Preset       string
	CRF          int
	BitrateK     int
	GOP          int
	BFrames      int
	Refs         int
	X264Params   string
	AudioBitrate string
	CreationTime string
	// Metadata tags written after the source metadata is stripped
	Metadata [][2]string
}

// Recipe is one fully resolved transformation
type Recipe struct {
	Seed     uint64
	Mode     string
	Quality  string
	Template string
	Width    int
	Height   int
	FPS      float64
	Speed    float64
	HasAudio bool
	Hook     string

	Video   []Stage
	Audio   []string
	Encoder Encoder
}

// VideoFilter renders the video chain, ending with FinalStage
func (r *Recipe) VideoFilter() string {
	parts := make([]string, 0, len(r.Video)+1)
	for _, s := range r.Video {
		parts = append(parts, s.Filter)
	}
	parts = append(parts, FinalStage)
	return strings.Join(parts, ",")
}

// AudioFilter renders the audio chain
func (r *Recipe) AudioFilter() string {
	return strings.Join(r.Audio, ",")
}

// AddVideo appends stages ahead of FinalStage
func (r *Recipe) AddVideo(drop int, filters ...string) {
	for _, f := range filters {
		r.Video = append(r.Video, Stage{Filter: f, Drop: drop})
	}
}

// AddTrapVideo appends trap stages. Fit drops them only after every
// decorative stage is gone.
func (r *Recipe) AddTrapVideo(filters ...string) {
	r.AddVideo(dropTrap, filters...)
}

// Fit removes optional stages until the video filter is at most maxLen
// bytes long. It reports whether the result fits.
func (r *Recipe) Fit(maxLen int) bool {
	if maxLen <= 0 || len(r.VideoFilter()) <= maxLen {
		return true
	}

	order := make([]int, 0, len(r.Video))
	for i, s := range r.Video {
		if s.Drop != keep {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		if r.Video[order[a]].Drop != r.Video[order[b]].Drop {
			return r.Video[order[a]].Drop > r.Video[order[b]].Drop
		}
		return order[a] > order[b]
	})

	removed := make(map[int]bool)
	length := len(r.VideoFilter())
	for _, i := range order {
		if length <= maxLen {
			break
		}
		removed[i] = true
		length -= len(r.Video[i].Filter) + 1
	}

	kept := r.Video[:0]
	for i, s := range r.Video {
		if !removed[i] {
			kept = append(kept, s)
		}
	}
	r.Video = kept
	return length <= maxLen
}

// Args builds the transcoder command line for input and output
func (r *Recipe) Args(input, output string) []string {
	e := r.Encoder
	args := []string{
		"-y",
		"-i", input,
		"-vf", r.VideoFilter(),
	}
	if r.HasAudio && len(r.Audio) > 0 {
		args = append(args, "-af", r.AudioFilter())
	}

	args = append(args,
		"-c:v", "libx264",
		"-profile:v", e.Profile,
		"-level:v", e.Level,
		"-preset", e.Preset,
		"-crf", strconv.Itoa(e.CRF),
		"-maxrate", strconv.Itoa(e.BitrateK)+"k",
		"-bufsize", strconv.Itoa(2*e.BitrateK)+"k",
		"-g", strconv.Itoa(e.GOP),
		"-keyint_min", strconv.Itoa(e.GOP/2),
		"-sc_threshold", "0",
	)
	if e.BFrames > 0 {
		args = append(args, "-bf", strconv.Itoa(e.BFrames))
	}
	if e.Refs > 0 {
		args = append(args, "-refs", strconv.Itoa(e.Refs))
	}
	if e.X264Params != "" {
		args = append(args, "-x264-params", e.X264Params)
	}

	if r.HasAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", e.AudioBitrate,
			"-ar", "48000",
		)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-map_metadata", "-1",
		"-metadata", "creation_time="+e.CreationTime,
	)
	for _, kv := range e.Metadata {
		args = append(args, "-metadata", kv[0]+"="+kv[1])
	}

	args = append(args,
		"-fflags", "+bitexact+genpts",
		"-flags:v", "+bitexact",
		"-flags:a", "+bitexact",
		"-movflags", "+faststart",
		output,
	)
	return args
}
