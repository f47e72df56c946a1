package trap

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/virex/internal/metrics"
	"github.com/therealutkarshpriyadarshi/virex/pkg/models"
)

// Detection methods
const (
	MethodHash     = "Video Hash Match"
	MethodMetadata = "Ghost Metadata"
	MethodEncoder  = "Ghost Metadata (encoder)"
)

const (
	confidenceHash     = 0.99
	confidenceMetadata = 0.95
	confidenceEncoder  = 0.85
)

var encoderIDRe = regexp.MustCompile(`id:(\d+)\)`)

// Detect looks for a trap in the candidate video. Methods run from the most
// to the least certain: exact file hash, VTrap comment, encoder id, then
// pixel statistics.
func (t *Trap) Detect(ctx context.Context, path string) (models.Detection, error) {
	det, err := t.detect(ctx, path)
	if err != nil {
		return det, err
	}
	metrics.RecordTrapDetection(det.Method)
	t.logger.WithFields(map[string]interface{}{
		"found":      det.Found,
		"method":     det.Method,
		"confidence": det.Confidence,
	}).Info("Trap detection finished")
	return det, nil
}

func (t *Trap) detect(ctx context.Context, path string) (models.Detection, error) {
	det, err := t.checkHash(path)
	if err != nil || det.Found {
		return det, err
	}

	if det := t.checkMetadata(ctx, path); det.Found {
		return det, nil
	}

	return t.checkPixels(ctx, path), nil
}

func (t *Trap) checkHash(path string) (models.Detection, error) {
	hash, err := QuickHash(path)
	if err != nil {
		return models.Detection{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sig := range t.sigs {
		if sig.OutputHash == hash || sig.VideoHash == hash {
			return models.Detection{
				Found:      true,
				Confidence: confidenceHash,
				UserID:     sig.UserID,
				Timestamp:  sig.Timestamp,
				Method:     MethodHash,
			}, nil
		}
	}
	return models.Detection{}, nil
}

// checkMetadata scans every tag. A failed probe counts as no trap found.
func (t *Trap) checkMetadata(ctx context.Context, path string) models.Detection {
	md, err := t.prober.ProbeMetadata(ctx, path)
	if err != nil {
		t.logger.WithError(err).Debug("Metadata probe failed")
		return models.Detection{}
	}

	tags := md.AllTags()
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := tags[k]
		if !strings.HasPrefix(v, VTrapPrefix) {
			continue
		}
		fragment := strings.TrimPrefix(v, VTrapPrefix)
		if len(fragment) > 16 {
			fragment = fragment[:16]
		}
		if fragment == "" {
			continue
		}
		if sig := t.byPrefix(fragment); sig != nil {
			return models.Detection{
				Found:      true,
				Confidence: confidenceMetadata,
				UserID:     sig.UserID,
				Timestamp:  sig.Timestamp,
				Method:     MethodMetadata,
			}
		}
	}

	for _, k := range keys {
		m := encoderIDRe.FindStringSubmatch(tags[k])
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		return models.Detection{
			Found:      true,
			Confidence: confidenceEncoder,
			UserID:     id,
			Timestamp:  t.now().Unix(),
			Method:     MethodEncoder,
		}
	}
	return models.Detection{}
}

func (t *Trap) byPrefix(fragment string) *models.TrapSignature {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, sig := range t.sigs {
		if strings.HasPrefix(sig.FullSignature, fragment) {
			return sig
		}
	}
	return nil
}

// checkPixels is the statistical pixel analysis. It has no model behind it
// yet and reports nothing found.
func (t *Trap) checkPixels(context.Context, string) models.Detection {
	return models.Detection{Found: false, Confidence: 0}
}
