package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Downloader fetches a link to a local file with a generic extractor
type Downloader interface {
	Download(ctx context.Context, url, output string, maxBytes int64) error
}

// YtDlp drives the yt-dlp binary
type YtDlp struct {
	path          string
	socketTimeout time.Duration
	timeout       time.Duration
}

// NewYtDlp creates a downloader for the binary at path
func NewYtDlp(path string, socketTimeout, timeout time.Duration) *YtDlp {
	if p, err := exec.LookPath(path); err == nil {
		path = p
	}
	return &YtDlp{path: path, socketTimeout: socketTimeout, timeout: timeout}
}

// Download implements Downloader
func (y *YtDlp) Download(ctx context.Context, url, output string, maxBytes int64) error {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	mb := maxBytes / (1024 * 1024)
	args := []string{
		"-f", fmt.Sprintf("best[ext=mp4][filesize<=%dM]/best[ext=mp4]/best", mb),
		"--max-filesize", fmt.Sprintf("%dM", mb),
		"--socket-timeout", strconv.Itoa(int(y.socketTimeout.Seconds())),
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"-o", output,
		url,
	}

	cmd := exec.CommandContext(ctx, y.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
