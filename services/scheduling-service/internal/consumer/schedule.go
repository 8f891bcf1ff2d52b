package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const TopicScheduleUpdated = "organization.schedule.updated.v1"

// ScheduleUpdated is published by the organization service whenever business hours change.
type ScheduleUpdated struct {
	OrganizationID string `json:"organizationId"`
}

// HoursInvalidator drops cached business hours. *hours.CachedRegistry satisfies it.
type HoursInvalidator interface {
	Invalidate(ctx context.Context, organizationID string) error
}

// InvalidateHours returns a handler that evicts the organization's cached week.
func InvalidateHours(inv HoursInvalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt ScheduleUpdated
		if len(msg.Value) > 0 {
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				return fmt.Errorf("decode %s: %w", msg.Topic, err)
			}
		}
		if evt.OrganizationID == "" {
			evt.OrganizationID = kafkax.ExtractEventMeta(msg).OrganizationID
		}
		if evt.OrganizationID == "" {
			return errors.New("schedule update without organization id")
		}
		if err := inv.Invalidate(ctx, evt.OrganizationID); err != nil {
			return err
		}
		logger.Info("business hours cache invalidated", "organization_id", evt.OrganizationID)
		return nil
	}
}
