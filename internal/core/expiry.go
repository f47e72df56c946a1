package core

import (
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/virex/internal/events"
	"github.com/therealutkarshpriyadarshi/virex/internal/quota"
)

// NotifyExpiring sends one notice to every user whose plan ends within
// quota.ExpiryLookahead days and returns how many were sent
func (c *Core) NotifyExpiring(ctx context.Context) int {
	users := c.quota.Expiring(quota.ExpiryLookahead)
	for _, u := range users {
		c.publish(ctx, events.Event{
			Type:    events.TypePlanExpiring,
			UserID:  u.UserID,
			Message: fmt.Sprintf("%s plan ends in %d day(s)", u.Plan, u.DaysLeft),
			Data: map[string]interface{}{
				"plan":      string(u.Plan),
				"days_left": u.DaysLeft,
			},
		})
		c.notifier.PlanExpiring(ctx, u)
		c.quota.MarkExpiryNotified(u.UserID)
	}
	if len(users) > 0 {
		c.logger.Infof("Sent %d plan expiry notices", len(users))
	}
	return len(users)
}

// RunExpiryNotifier runs NotifyExpiring now and then every interval until
// ctx is done
func (c *Core) RunExpiryNotifier(ctx context.Context, interval time.Duration) {
	c.NotifyExpiring(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.NotifyExpiring(ctx)
		}
	}
}
