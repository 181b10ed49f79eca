package workers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tripwave/db"
	"tripwave/models"
	"tripwave/realtime"
	"tripwave/utils"
)

const notificationOutbox = "notifications:outbox"

// StartNotificationDrain pops queued notifications off the outbox list
// and pushes them to the recipient's realtime rooms. The recipient may
// be connected as either a user or a driver, so both rooms are
// addressed; empty rooms drop the message.
func StartNotificationDrain(ctx context.Context, emitter *realtime.Emitter) {
	utils.SafeGo(func() {
		utils.Logger.Info("Notification drain worker started")

		for {
			if ctx.Err() != nil {
				utils.Logger.Info("Notification drain worker stopped")
				return
			}

			res, err := db.RedisClient.BLPop(ctx, 5*time.Second, notificationOutbox).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				utils.Logger.Error("Failed to read notification outbox", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			// BLPop returns [key, value].
			if len(res) < 2 {
				continue
			}

			var n models.Notification
			if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
				utils.Logger.Error("Malformed notification in outbox", zap.Error(err))
				continue
			}

			ev := realtime.NewEvent(realtime.EventNotification, realtime.NotificationPayload{
				RecipientID: n.RecipientID,
				Subject:     n.Subject,
				Body:        n.Body,
			})
			ev.UserID = n.RecipientID
			ev.DriverID = n.RecipientID
			emitter.Emit(ev)
		}
	})
}
