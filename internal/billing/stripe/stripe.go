// Package stripe verifies and decodes Stripe webhook deliveries.
package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/billing/domain"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
)

const SignatureHeader = "Stripe-Signature"

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

const (
	defaultSignatureTolerance = 5 * time.Minute
	metadataOrganizationIDKey = "org_id"
)

type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify checks header against payload. The signed timestamp must lie within
// the tolerance of now in either direction.
func (v *Verifier) Verify(payload []byte, header string, now time.Time) error {
	if v.secret == "" {
		return domain.ErrNotConfigured
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignature(header)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return domain.ErrInvalidSignature
	}

	expected := computeSignature(v.secret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

type event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data eventData `json:"data"`
}

type eventData struct {
	Object json.RawMessage `json:"object"`
}

type eventObject struct {
	ID           string         `json:"id"`
	Customer     any            `json:"customer"`
	Subscription any            `json:"subscription"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
}

// Parse decodes a verified payload into a StatusChange. Unknown event types
// and events without an organization reference come back with Ignored set.
func Parse(payload []byte) (*domain.StatusChange, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	evt.ID = strings.TrimSpace(evt.ID)
	evt.Type = strings.TrimSpace(evt.Type)
	if evt.ID == "" || evt.Type == "" {
		return nil, domain.ErrInvalidEvent
	}

	change := &domain.StatusChange{
		Provider:        domain.ProviderStripe,
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
	}

	var obj eventObject
	if len(evt.Data.Object) > 0 {
		if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}
	change.OrgID = parseOrgID(obj.Metadata)
	change.ProviderCustomerID = readID(obj.Customer)
	change.ProviderStatus = strings.TrimSpace(obj.Status)

	switch evt.Type {
	case EventCheckoutCompleted:
		change.Status = orgdomain.SubscriptionActive
		change.ProviderSubscriptionID = readID(obj.Subscription)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		change.Status = mapSubscriptionStatus(change.ProviderStatus)
		change.ProviderSubscriptionID = obj.ID
	case EventSubscriptionDeleted:
		change.Status = orgdomain.SubscriptionCanceled
		change.ProviderSubscriptionID = obj.ID
	default:
		change.Ignored = true
	}
	if change.OrgID == nil {
		change.Ignored = true
	}
	return change, nil
}

func mapSubscriptionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return orgdomain.SubscriptionActive
	default:
		return orgdomain.SubscriptionPastDue
	}
}

func parseOrgID(metadata map[string]any) *snowflake.ID {
	raw := readMetadataValue(metadata, metadataOrganizationIDKey)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	switch cast := metadata[key].(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

// readID accepts both the bare id and the expanded object form Stripe uses
// for references such as customer and subscription.
func readID(value any) string {
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case map[string]any:
		if id, ok := cast["id"].(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}
