package transcoder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/virex/internal/planner"
)

// Defaults used when the prober leaves a value out
const (
	DefaultFPS      = 30.0
	DefaultDuration = 60.0
)

// Probe reads the first video stream's geometry, frame rate and duration,
// and whether the file carries audio
func (f *FFmpeg) Probe(ctx context.Context, path string) (planner.Source, error) {
	out, err := f.output(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,duration",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return planner.Source{}, err
	}

	src := parseStreamCSV(string(out))
	if src.Width == 0 || src.Height == 0 {
		return src, fmt.Errorf("no video stream in %s", path)
	}

	src.HasAudio, err = f.HasAudio(ctx, path)
	if err != nil {
		return src, err
	}
	return src, nil
}

// parseStreamCSV parses "width,height,a/b,duration" filling gaps with defaults
func parseStreamCSV(out string) planner.Source {
	src := planner.Source{FPS: DefaultFPS, Duration: DefaultDuration}

	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) > 0 {
		src.Width, _ = strconv.Atoi(strings.TrimSpace(fields[0]))
	}
	if len(fields) > 1 {
		src.Height, _ = strconv.Atoi(strings.TrimSpace(fields[1]))
	}
	if len(fields) > 2 {
		if fps := parseRate(fields[2]); fps > 0 {
			src.FPS = fps
		}
	}
	if len(fields) > 3 {
		if d, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64); err == nil && d > 0 {
			src.Duration = d
		}
	}
	return src
}

// parseRate parses "num/den" or a plain number
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// HasAudio reports whether path has at least one audio stream
func (f *FFmpeg) HasAudio(ctx context.Context, path string) (bool, error) {
	out, err := f.output(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), "audio"), nil
}

// Duration returns the container duration in seconds
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.output(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// Metadata holds ffprobe's JSON view of a file
type Metadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	BitRate      string            `json:"bit_rate"`
	FrameRate    string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Channels     int               `json:"channels"`
	SampleRate   string            `json:"sample_rate"`
	Tags         map[string]string `json:"tags"`
}

// ProbeMetadata runs a full JSON probe including container and stream tags
func (f *FFmpeg) ProbeMetadata(ctx context.Context, path string) (*Metadata, error) {
	out, err := f.output(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}

	var md Metadata
	if err := json.Unmarshal(out, &md); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &md, nil
}

// AllTags returns every container and stream tag value keyed by name. Stream
// tags are prefixed with their stream index.
func (m *Metadata) AllTags() map[string]string {
	tags := make(map[string]string, len(m.Format.Tags))
	for k, v := range m.Format.Tags {
		tags[k] = v
	}
	for i, s := range m.Streams {
		for k, v := range s.Tags {
			tags[fmt.Sprintf("stream%d:%s", i, k)] = v
		}
	}
	return tags
}

// VideoInfo is the detailed probe shown to users
type VideoInfo struct {
	Format       string  `json:"format"`
	Duration     float64 `json:"duration"`
	FileSize     int64   `json:"file_size"`
	Bitrate      int64   `json:"bitrate"`
	VideoCodec   string  `json:"video_codec"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	FPS          float64 `json:"fps"`
	VideoBitrate int64   `json:"video_bitrate"`
	AudioCodec   string  `json:"audio_codec,omitempty"`
	AudioBitrate int64   `json:"audio_bitrate,omitempty"`
	Channels     int     `json:"channels,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
}

// Inspect extracts detailed stream information
func (f *FFmpeg) Inspect(ctx context.Context, path string) (*VideoInfo, error) {
	md, err := f.ProbeMetadata(ctx, path)
	if err != nil {
		return nil, err
	}

	info := &VideoInfo{Format: md.Format.FormatName}
	info.Duration, _ = strconv.ParseFloat(md.Format.Duration, 64)
	info.FileSize, _ = strconv.ParseInt(md.Format.Size, 10, 64)
	info.Bitrate, _ = strconv.ParseInt(md.Format.BitRate, 10, 64)

	videoSeen, audioSeen := false, false
	for _, s := range md.Streams {
		switch {
		case s.CodecType == "video" && !videoSeen:
			videoSeen = true
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseRate(s.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = parseRate(s.FrameRate)
			}
			info.VideoBitrate, _ = strconv.ParseInt(s.BitRate, 10, 64)
		case s.CodecType == "audio" && !audioSeen:
			audioSeen = true
			info.AudioCodec = s.CodecName
			info.AudioBitrate, _ = strconv.ParseInt(s.BitRate, 10, 64)
			info.Channels = s.Channels
			info.SampleRate, _ = strconv.Atoi(s.SampleRate)
		}
	}
	if !videoSeen {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return info, nil
}
