package worker

import (
	"context"
	"errors"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/broker"
	"restaurant-service/internal/models"
	"restaurant-service/internal/service"
	"restaurant-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// processedTTL bounds how long a handled event id is remembered
const processedTTL = 24 * time.Hour

// CheckoutConfirmer reconciles a completed checkout
type CheckoutConfirmer interface {
	ConfirmCheckout(ctx context.Context, slug, externalID string) (*service.ConfirmResult, error)
}

// EventDeduper remembers handled event ids
type EventDeduper interface {
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

// ActivationPublisher announces activated subscriptions
type ActivationPublisher interface {
	PublishSubscriptionActivated(ctx context.Context, event *models.SubscriptionActivatedEvent) error
}

// BillingWorker applies checkout confirmations that arrive on the billing topic
type BillingWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	confirmer    CheckoutConfirmer
	dedupe       EventDeduper
	publisher    ActivationPublisher
	logger       *zap.Logger
}

// NewBillingWorker creates a new billing worker. dedupe and publisher may be nil.
func NewBillingWorker(
	consumer *broker.Consumer,
	confirmer CheckoutConfirmer,
	dedupe EventDeduper,
	publisher ActivationPublisher,
) *BillingWorker {
	w := &BillingWorker{
		consumer:  consumer,
		confirmer: confirmer,
		dedupe:    dedupe,
		publisher: publisher,
		logger:    util.GetLogger(),
	}

	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnCheckoutCompleted(w.HandleCheckoutCompleted)
	return w
}

// Start starts the worker
func (w *BillingWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting billing worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *BillingWorker) Stop() error {
	w.logger.Info("Stopping billing worker")
	return w.consumer.Close()
}

// HandleCheckoutCompleted confirms the checkout named by event. Mismatches
// and unknown restaurants are logged and dropped; they will never succeed on
// redelivery. Anything else is returned so the message is redelivered.
func (w *BillingWorker) HandleCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	ctx, span := util.StartSpan(ctx, "BillingWorker.HandleCheckoutCompleted")
	defer span.End()

	if w.dedupe != nil && event.EventID != "" {
		first, err := w.dedupe.MarkEventProcessed(ctx, event.EventID, processedTTL)
		if err != nil {
			return err
		}
		if !first {
			w.logger.Info("Skipping duplicate checkout event", zap.String("event_id", event.EventID))
			return nil
		}
	}

	result, err := w.confirmer.ConfirmCheckout(ctx, event.RestaurantSlug, event.ExternalID)
	if err != nil {
		if errors.Is(err, apperr.ErrCheckoutMismatch) || errors.Is(err, apperr.ErrRestaurantNotFound) || errors.Is(err, apperr.ErrPlanNotFound) {
			w.logger.Warn("Dropping checkout event",
				zap.String("restaurant", event.RestaurantSlug),
				zap.String("external_id", event.ExternalID),
				zap.Error(err))
			return nil
		}
		if w.dedupe != nil && event.EventID != "" {
			if ferr := w.dedupe.ForgetEvent(ctx, event.EventID); ferr != nil {
				w.logger.Warn("Failed to forget event", zap.String("event_id", event.EventID), zap.Error(ferr))
			}
		}
		return err
	}

	if result.Confirmed && w.publisher != nil {
		activated := &models.SubscriptionActivatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeSubscriptionActivated,
				Timestamp: time.Now(),
			},
			RestaurantSlug: event.RestaurantSlug,
			PlanID:         result.PlanID,
			ExternalID:     result.ExternalID,
		}
		if err := w.publisher.PublishSubscriptionActivated(ctx, activated); err != nil {
			w.logger.Error("Failed to publish SubscriptionActivated event", zap.Error(err))
		}
	}

	return nil
}
