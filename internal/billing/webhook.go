package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventCheckoutSessionCompleted is the only webhook event type reconciled
const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	// ErrInvalidSignature rejects a Stripe-Signature header that does not verify
	ErrInvalidSignature = errors.New("invalid_signature")
	// ErrInvalidPayload rejects bodies that are not a usable checkout session
	ErrInvalidPayload = errors.New("invalid_payload")
	// ErrEventIgnored marks events that need no reconciliation
	ErrEventIgnored = errors.New("event_ignored")
)

// CheckoutCompleted is the part of a completed session we reconcile on
type CheckoutCompleted struct {
	EventID        string
	SessionID      string
	RestaurantSlug string
	PlanID         string
	ExternalID     string
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSessionObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// VerifySignature checks a Stripe-Signature header against payload. Headers
// older than tolerance relative to now are rejected.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrInvalidSignature
		}
	}

	expected := SignPayload(payload, secret, timestamp)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload computes the v1 signature for timestamp.payload
func SignPayload(payload []byte, secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, string(payload))))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

// ParseCheckoutCompleted extracts the correlation fields from a
// checkout.session.completed event. Other event types yield ErrEventIgnored.
func ParseCheckoutCompleted(payload []byte) (*CheckoutCompleted, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, ErrInvalidPayload
	}
	if event.Type != EventCheckoutSessionCompleted {
		return nil, ErrEventIgnored
	}

	var session stripeSessionObject
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, ErrInvalidPayload
	}

	externalID := session.Metadata["external_id"]
	if externalID == "" {
		externalID = session.ClientReferenceID
	}
	slug := session.Metadata["restaurant_slug"]
	if slug == "" || externalID == "" {
		return nil, ErrInvalidPayload
	}

	return &CheckoutCompleted{
		EventID:        event.ID,
		SessionID:      session.ID,
		RestaurantSlug: slug,
		PlanID:         session.Metadata["plan_id"],
		ExternalID:     externalID,
	}, nil
}
