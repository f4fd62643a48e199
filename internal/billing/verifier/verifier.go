// Package verifier authenticates and decodes inbound billing provider
// webhooks before any state is touched.
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/couture/internal/billing/domain"
)

// Verifier checks webhook signatures against the shared endpoint secret and
// parses the raw payload into the internal event shape.
type Verifier struct {
	secret []byte
}

// New returns a Verifier for the given endpoint secret.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates a `t=<unix>,v1=<hex>` signature header over the raw
// request body. The signed message is "<t>.<body>". Comparison is constant
// time. Timestamp age is deliberately not enforced: provider retries can be
// days old and staleness is handled downstream by the event watermark.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no endpoint secret configured", domain.ErrInvalidSignature)
	}

	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sig, err := hex.DecodeString(val)
			if err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return domain.ErrInvalidSignature
	}
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// Sign produces a valid signature header for the given payload at the given
// time. Used by tests and local tooling that replays captured payloads.
func (v *Verifier) Sign(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd *bool             `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *int64            `json:"current_period_end"`
	StartDate         *int64            `json:"start_date"`
	EndedAt           *int64            `json:"ended_at"`
	Metadata          map[string]string `json:"metadata"`
}

type invoiceObject struct {
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// Parse decodes a verified payload into an InboundEvent. It never rejects
// unknown event types; those are classified downstream and acknowledged.
func (v *Verifier) Parse(payload []byte) (*domain.InboundEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing event id or type", domain.ErrMalformedPayload)
	}

	ev := &domain.InboundEvent{
		EventID:    raw.ID,
		Type:       raw.Type,
		OccurredAt: time.Unix(raw.Created, 0).UTC(),
		Payload:    payload,
	}

	switch raw.Type {
	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription event without subscription id", domain.ErrMalformedPayload)
		}
		ev.ExternalSubscriptionID = sub.ID
		ev.OrgID = orgIDFromMetadata(sub.Metadata)
		ev.Subscription = &domain.SubscriptionData{
			ExternalID:        sub.ID,
			Status:            sub.Status,
			PlanCode:          sub.Metadata["plan_code"],
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			CurrentPeriodEnd:  unixPtr(sub.CurrentPeriodEnd),
			StartedAt:         unixPtr(sub.StartDate),
			EndedAt:           unixPtr(sub.EndedAt),
		}
	case domain.EventInvoicePaid, domain.EventInvoicePaymentFail:
		var inv invoiceObject
		if err := json.Unmarshal(raw.Data.Object, &inv); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		ev.ExternalSubscriptionID = inv.Subscription
		ev.OrgID = orgIDFromMetadata(inv.Metadata)
	}

	return ev, nil
}

func orgIDFromMetadata(md map[string]string) snowflake.ID {
	raw, ok := md["org_id"]
	if !ok {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}

func unixPtr(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
