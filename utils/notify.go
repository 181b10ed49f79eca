package utils

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tripwave/db"
	"tripwave/models"
)

const notificationOutbox = "notifications:outbox"

// Notify hands a notification record to the external delivery providers
// (email/SMS/push) via the redis outbox list. Delivery success or failure
// is not observed here; a worker on the provider side drains the list.
func Notify(n models.Notification) {
	SafeGo(func() {
		payload, err := json.Marshal(n)
		if err != nil {
			Logger.Error("Failed to marshal notification", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.RedisClient.RPush(ctx, notificationOutbox, payload).Err(); err != nil {
			Logger.Error("Failed to enqueue notification",
				zap.String("recipientId", n.RecipientID), zap.Error(err))
		}
	})
}
