package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlms/auth-service/internal/infrastructure/observability"
	pkgerrors "github.com/openlms/auth-service/pkg/errors"
)

const authEventsTopic = "auth-events"

func recordOp(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.AuthOperations.WithLabelValues(operation, status).Inc()
}

func wrapInternal(err error, msg string) error {
	return fmt.Errorf("%w: %s: %v", pkgerrors.ErrInternal, msg, err)
}

// publishEvent hands an auth event to the notification service, async with
// a few retries. Delivery is best-effort: a lost event never fails the auth
// operation that produced it.
func (s *authService) publishEvent(userID int32, event map[string]interface{}) {
	if s.producer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal auth event", "user_id", userID, "error", err)
		return
	}

	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.producer.Send(context.Background(), authEventsTopic, int64(userID), payload); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send auth event after retries",
			"event_type", event["event_type"],
			"user_id", userID)
	}()
}
