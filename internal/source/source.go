package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/events"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/internal/retry"
	"github.com/therealutkarshpriyadarshi/virex/internal/workspace"
)

var (
	// ErrDownloadFailed is returned when every strategy failed
	ErrDownloadFailed = errors.New("download failed")
	// ErrTooLarge is returned with ErrDownloadFailed for oversized media
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty is returned with ErrDownloadFailed for downloads under MinBytes
	ErrEmpty = errors.New("empty download")
)

// MinBytes is the smallest download accepted as media
const MinBytes = 1024

const chunkSize = 8 * 1024

// Strategy names used in logs and metrics
const (
	StrategyNoWatermark = "nowatermark"
	StrategyKuaishou    = "kuaishou"
	StrategyGeneric     = "generic"
)

// PathAllocator hands out unique temp paths
type PathAllocator interface {
	NewPath(ext string) string
}

// Resolver turns links into local files
type Resolver struct {
	cfg      config.SourceConfig
	maxBytes int64
	client   *http.Client
	generic  Downloader
	paths    PathAllocator
	cache    *Cache
	events   events.Publisher
	logger   *logging.Logger

	group     singleflight.Group
	fallbacks atomic.Int64
}

// NewResolver creates a resolver. maxBytes bounds every download.
func NewResolver(cfg config.SourceConfig, maxBytes int64, generic Downloader, paths PathAllocator, pub events.Publisher, logger *logging.Logger) *Resolver {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.SocketTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.SocketTimeout,
		ResponseHeaderTimeout: cfg.SocketTimeout,
		MaxIdleConnsPerHost:   4,
	}
	return &Resolver{
		cfg:      cfg,
		maxBytes: maxBytes,
		client:   &http.Client{Transport: transport, Timeout: cfg.BodyTimeout},
		generic:  generic,
		paths:    paths,
		cache:    NewCache(cfg.CacheSize, cfg.CacheEvict, cfg.CacheTTL),
		events:   pub,
		logger:   logger.Component("source"),
	}
}

// Cache exposes the download cache
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve returns a held handle on a local copy of link. Callers must
// Release it when done with the file.
func (r *Resolver) Resolve(ctx context.Context, link string) (*Handle, error) {
	key := Key(link)
	if h, ok := r.cache.Acquire(key); ok {
		r.logger.WithField("url", link).Debug("Download cache hit")
		return h, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.download(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	return r.cache.Put(key, v.(string)), nil
}

func (r *Resolver) download(ctx context.Context, link string) (string, error) {
	output := r.paths.NewPath(".mp4")

	switch {
	case isNoWatermarkHost(link):
		err := r.try(ctx, link, output, StrategyNoWatermark, r.noWatermark)
		if err == nil {
			r.fallbacks.Store(0)
			return output, nil
		}
		r.recordFallback(ctx, link, err)
	case isKuaishouHost(link):
		if err := r.try(ctx, link, output, StrategyKuaishou, r.kuaishou); err == nil {
			return output, nil
		}
	}

	err := r.try(ctx, link, output, StrategyGeneric, func(ctx context.Context, link, output string) error {
		if err := r.generic.Download(ctx, link, output, r.maxBytes); err != nil {
			return err
		}
		return r.checkFile(output)
	})
	if err != nil {
		if errors.Is(err, ErrTooLarge) || errors.Is(err, ErrEmpty) {
			return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
		}
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return output, nil
}

// try runs one strategy, removing partial output on failure
func (r *Resolver) try(ctx context.Context, link, output, strategy string, fn func(ctx context.Context, link, output string) error) error {
	start := time.Now()
	err := fn(ctx, link, output)

	var size int64
	if info, statErr := os.Stat(output); statErr == nil {
		size = info.Size()
	}
	if err != nil {
		workspace.Remove(output)
	}

	metrics.RecordSourceResolution(strategy, err == nil)
	r.logger.LogDownload(link, strategy, size, time.Since(start), err)
	return err
}

func (r *Resolver) recordFallback(ctx context.Context, link string, err error) {
	reason := "api_error"
	switch {
	case errors.Is(err, ErrTooLarge):
		reason = "too_large"
	case errors.Is(err, ErrEmpty):
		reason = "empty"
	case errors.Is(err, errNoMediaURL):
		reason = "no_media_url"
	}
	metrics.RecordNoWatermarkFallback(reason)

	n := r.fallbacks.Add(1)
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"url":         link,
		"reason":      reason,
		"consecutive": n,
	}).Warn("No-watermark API failed, falling back to generic downloader")

	if r.cfg.FallbackAlertAfter > 0 && n == int64(r.cfg.FallbackAlertAfter) {
		alert := events.Event{
			Type:    events.TypeAdminAlert,
			Message: fmt.Sprintf("no-watermark API failed %d times in a row", n),
			Data:    map[string]interface{}{"last_reason": reason},
		}
		if err := r.events.Publish(ctx, alert); err != nil {
			r.logger.WithError(err).Error("Failed to publish fallback alert")
		}
	}
}

var errNoMediaURL = errors.New("no media url in response")

// noWatermark asks the watermark-free APIs for a direct media link
func (r *Resolver) noWatermark(ctx context.Context, link, output string) error {
	endpoints := []struct {
		base  string
		parse func([]byte) string
	}{
		{r.cfg.TikwmURL, parseTikwm},
		{r.cfg.DouyinURL, parseDouyin},
	}

	var lastErr error = errNoMediaURL
	for _, ep := range endpoints {
		if ep.base == "" {
			continue
		}
		body, err := r.fetch(ctx, ep.base+url.QueryEscape(link), "application/json", r.cfg.UserAgent)
		if err != nil {
			lastErr = err
			continue
		}
		media := ep.parse(body)
		if media == "" {
			lastErr = errNoMediaURL
			continue
		}
		return r.stream(ctx, media, output, r.cfg.UserAgent)
	}
	return lastErr
}

func parseTikwm(body []byte) string {
	var resp struct {
		Data struct {
			Play string `json:"play"`
		} `json:"data"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return ""
	}
	return resp.Data.Play
}

func parseDouyin(body []byte) string {
	var resp struct {
		NwmVideoURL string `json:"nwm_video_url"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return ""
	}
	return resp.NwmVideoURL
}

// kuaishou scrapes the share page for a media link
func (r *Resolver) kuaishou(ctx context.Context, link, output string) error {
	body, err := r.fetch(ctx, link, "text/html,application/xhtml+xml", r.cfg.UserAgent)
	if err != nil {
		return err
	}
	media, ok := findKuaishouMedia(string(body))
	if !ok {
		return errNoMediaURL
	}
	return r.stream(ctx, media, output, r.cfg.UserAgent)
}

// fetch GETs a small document with retries
func (r *Resolver) fetch(ctx context.Context, target, accept, userAgent string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, r.cfg.RetryAttempts, r.cfg.RetryDelay, func(ctx context.Context) error {
		resp, err := r.get(ctx, target, accept, userAgent)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		return err
	})
	return body, err
}

// stream downloads media to output in fixed-size chunks
func (r *Resolver) stream(ctx context.Context, media, output, userAgent string) error {
	err := retry.Do(ctx, r.cfg.RetryAttempts, r.cfg.RetryDelay, func(ctx context.Context) error {
		resp, err := r.get(ctx, media, "*/*", userAgent)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.ContentLength > r.maxBytes {
			return retry.Permanent(ErrTooLarge)
		}

		f, err := os.Create(output)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create %s: %w", output, err))
		}
		n, err := io.CopyBuffer(f, io.LimitReader(resp.Body, r.maxBytes+1), make([]byte, chunkSize))
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("failed to download media: %w", err)
		}
		if n > r.maxBytes {
			return retry.Permanent(ErrTooLarge)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.checkFile(output)
}

func (r *Resolver) get(ctx context.Context, target, accept, userAgent string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return resp, nil
}

// checkFile validates a finished download
func (r *Resolver) checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmpty, err)
	}
	switch {
	case info.Size() > r.maxBytes:
		return ErrTooLarge
	case info.Size() < MinBytes:
		return ErrEmpty
	}
	return nil
}
