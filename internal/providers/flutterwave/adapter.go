package flutterwave

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snapvend/snapvend/internal/providers/domain"
)

type Adapter struct {
	verifHash string
}

func (a *Adapter) Provider() string { return domain.ProviderFlutterwave }

// Verify checks the verif-hash header against the configured secret hash.
// Flutterwave sends the raw secret back, not an HMAC of the payload.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	got := strings.TrimSpace(headers.Get("verif-hash"))
	if got == "" {
		return domain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.verifHash)) != 1 {
		return domain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	Event string       `json:"event"`
	Data  webhookData  `json:"data"`
	Meta  webhookExtra `json:"meta_data"`
}

type webhookData struct {
	ID       int64             `json:"id"`
	TxRef    string            `json:"tx_ref"`
	Status   string            `json:"status"`
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Meta     map[string]string `json:"meta"`
}

type webhookExtra map[string]string

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var raw webhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if raw.Event == "" || raw.Data.TxRef == "" {
		return nil, domain.ErrInvalidPayload
	}

	metadata := raw.Data.Meta
	if metadata == nil {
		metadata = map[string]string(raw.Meta)
	}

	event := &domain.Event{
		Provider:        domain.ProviderFlutterwave,
		ProviderEventID: raw.Event + ":" + raw.Data.TxRef,
		Reference:       raw.Data.TxRef,
		ProviderStatus:  raw.Data.Status,
		AmountCents:     domain.FloatToCents(raw.Data.Amount),
		Currency:        strings.ToUpper(raw.Data.Currency),
		Metadata:        metadata,
		RawPayload:      payload,
	}

	switch raw.Event {
	case "charge.completed":
		if strings.EqualFold(raw.Data.Status, "successful") {
			event.Type = domain.EventTypeChargeSucceeded
		} else {
			event.Type = domain.EventTypeChargeFailed
		}
	case "transfer.completed":
		event.Type = domain.EventTypePayoutCompleted
	default:
		return nil, domain.ErrEventIgnored
	}
	return event, nil
}
