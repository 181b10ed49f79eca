package workers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"tripwave/realtime"
	"tripwave/stores"
	"tripwave/utils"
)

const expirySweepInterval = 30 * time.Second

// StartOfferDispatch relays trip offers from the redis channel to the
// realtime emitter. Running the fan-out off a pub/sub channel rather
// than in the publishing request means every instance behind a load
// balancer pushes offers to its own connected drivers.
func StartOfferDispatch(ctx context.Context, offers *stores.OfferStore, emitter *realtime.Emitter) {
	utils.SafeGo(func() {
		pubsub := offers.Subscribe(ctx)
		defer pubsub.Close()

		ch := pubsub.Channel()
		utils.Logger.Info("Offer dispatch worker started")

		for {
			select {
			case <-ctx.Done():
				utils.Logger.Info("Offer dispatch worker stopped")
				return
			case msg, ok := <-ch:
				if !ok {
					utils.Logger.Warn("Offer dispatch channel closed")
					return
				}

				var offer stores.TripOffer
				if err := json.Unmarshal([]byte(msg.Payload), &offer); err != nil {
					utils.Logger.Error("Malformed trip offer on channel", zap.Error(err))
					continue
				}

				ev := realtime.NewEvent(realtime.EventTripOfferCreated, offerPayload(offer))
				ev.TripID = offer.TripID
				emitter.Emit(ev)
			}
		}
	})
}

// StartOfferExpiry sweeps the expiry index and announces offers whose
// window has lapsed so driver apps can drop them from their lists.
func StartOfferExpiry(ctx context.Context, offers *stores.OfferStore, emitter *realtime.Emitter) {
	utils.SafeGo(func() {
		ticker := time.NewTicker(expirySweepInterval)
		defer ticker.Stop()

		utils.Logger.Info("Offer expiry worker started")

		for {
			select {
			case <-ctx.Done():
				utils.Logger.Info("Offer expiry worker stopped")
				return
			case now := <-ticker.C:
				expired, err := offers.PopExpired(ctx, now)
				if err != nil {
					utils.Logger.Error("Failed to sweep expired offers", zap.Error(err))
					continue
				}
				for _, offer := range expired {
					ev := realtime.NewEvent(realtime.EventTripOfferExpired, offerPayload(offer))
					ev.TripID = offer.TripID
					emitter.Emit(ev)
				}
				if len(expired) > 0 {
					utils.Logger.Info("Expired trip offers swept", zap.Int("count", len(expired)))
				}
			}
		}
	})
}

func offerPayload(offer stores.TripOffer) realtime.TripOfferPayload {
	return realtime.TripOfferPayload{
		TripID:          offer.TripID,
		TripType:        offer.TripType,
		OriginName:      offer.OriginName,
		DestinationName: offer.DestinationName,
		OriginLat:       offer.OriginLat,
		OriginLng:       offer.OriginLng,
		DistanceKm:      offer.DistanceKm,
		Earnings:        offer.Earnings,
		Currency:        offer.Currency,
		ExpiresAt:       offer.ExpiresAt,
	}
}
