package stores

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	offerChannel   = "trip_offers"
	offerExpiryKey = "trip_offers:expiry"
)

// TripOffer is the dispatch record published when a trip goes live,
// inviting online drivers to claim it.
type TripOffer struct {
	TripID          string    `json:"tripId"`
	TripType        string    `json:"tripType"`
	OriginName      string    `json:"originName"`
	DestinationName string    `json:"destinationName"`
	OriginLat       float64   `json:"originLat"`
	OriginLng       float64   `json:"originLng"`
	DistanceKm      float64   `json:"distanceKm"`
	Earnings        int64     `json:"earnings"`
	Currency        string    `json:"currency"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// OfferStore publishes trip offers over redis pub/sub and tracks their
// expiry deadlines in a sorted set so a background worker can announce
// trip-offer-expired past the deadline.
type OfferStore struct {
	rdb *redis.Client
}

func NewOfferStore(rdb *redis.Client) *OfferStore {
	return &OfferStore{rdb: rdb}
}

func (s *OfferStore) Publish(ctx context.Context, offer TripOffer) error {
	val, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if err := s.rdb.ZAdd(ctx, offerExpiryKey, redis.Z{
		Score:  float64(offer.ExpiresAt.UnixMilli()),
		Member: val,
	}).Err(); err != nil {
		return err
	}
	return s.rdb.Publish(ctx, offerChannel, val).Err()
}

func (s *OfferStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, offerChannel)
}

// PopExpired removes and returns every offer whose deadline has passed.
func (s *OfferStore) PopExpired(ctx context.Context, now time.Time) ([]TripOffer, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)
	vals, err := s.rdb.ZRangeByScore(ctx, offerExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil || len(vals) == 0 {
		return nil, err
	}

	if err := s.rdb.ZRemRangeByScore(ctx, offerExpiryKey, "-inf", max).Err(); err != nil {
		return nil, err
	}

	var offers []TripOffer
	for _, val := range vals {
		var offer TripOffer
		if json.Unmarshal([]byte(val), &offer) == nil {
			offers = append(offers, offer)
		}
	}
	return offers, nil
}

// Withdraw drops any pending expiry entry for a trip, e.g. once a driver
// claims it.
func (s *OfferStore) Withdraw(ctx context.Context, tripID string) error {
	vals, err := s.rdb.ZRange(ctx, offerExpiryKey, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, val := range vals {
		var offer TripOffer
		if json.Unmarshal([]byte(val), &offer) == nil && offer.TripID == tripID {
			if err := s.rdb.ZRem(ctx, offerExpiryKey, val).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
