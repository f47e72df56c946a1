package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failFirst int
		permanent bool
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first time", 0, false, 3, 1, false},
		{"succeeds on third", 2, false, 3, 3, false},
		{"exhausts attempts", 5, false, 3, 3, true},
		{"permanent stops early", 5, true, 3, 1, true},
		{"zero attempts means one", 5, false, 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.attempts, time.Millisecond, func(ctx context.Context) error {
				calls++
				if calls <= tt.failFirst {
					if tt.permanent {
						return Permanent(errBoom)
					}
					return errBoom
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBoom)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDoLinearBackoff(t *testing.T) {
	var stamps []time.Time
	_ = Do(context.Background(), 3, 20*time.Millisecond, func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("again")
	})

	assert.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 3, time.Hour, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPermanentNil(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("x")))
}
