package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Remote event types the platform acts on.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is a verified remote event. The concrete type is one of
// *CheckoutCompleted, *SubscriptionChanged, *InvoicePaid,
// *InvoicePaymentFailed or *Unrecognized.
type Event interface {
	Meta() EventMeta
	Tenant() TenantRef
	isEvent()
}

// EventMeta carries the fields every event has.
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

// TenantRef is every hint an event carries about which tenant it concerns.
// Any field may be empty.
type TenantRef struct {
	TenantID   string
	TenantKey  string
	CustomerID string
}

// CheckoutCompleted links a tenant to a customer and subscription.
type CheckoutCompleted struct {
	EventMeta
	Ref            TenantRef
	SessionID      string
	SubscriptionID string
	PlanKey        string
}

// SubscriptionChanged covers subscription created, updated and deleted.
type SubscriptionChanged struct {
	EventMeta
	Ref          TenantRef
	Subscription Subscription
	Deleted      bool
}

// InvoicePaid is a successful payment.
type InvoicePaid struct {
	EventMeta
	Ref            TenantRef
	InvoiceID      string
	SubscriptionID string
}

// InvoicePaymentFailed is a failed collection attempt.
type InvoicePaymentFailed struct {
	EventMeta
	Ref            TenantRef
	InvoiceID      string
	SubscriptionID string
	AttemptCount   int64
}

// Unrecognized is any event type the platform does not act on.
type Unrecognized struct {
	EventMeta
}

func (e *CheckoutCompleted) Meta() EventMeta    { return e.EventMeta }
func (e *SubscriptionChanged) Meta() EventMeta  { return e.EventMeta }
func (e *InvoicePaid) Meta() EventMeta          { return e.EventMeta }
func (e *InvoicePaymentFailed) Meta() EventMeta { return e.EventMeta }
func (e *Unrecognized) Meta() EventMeta         { return e.EventMeta }

func (e *CheckoutCompleted) Tenant() TenantRef    { return e.Ref }
func (e *SubscriptionChanged) Tenant() TenantRef  { return e.Ref }
func (e *InvoicePaid) Tenant() TenantRef          { return e.Ref }
func (e *InvoicePaymentFailed) Tenant() TenantRef { return e.Ref }
func (e *Unrecognized) Tenant() TenantRef         { return TenantRef{} }

func (*CheckoutCompleted) isEvent()    {}
func (*SubscriptionChanged) isEvent()  {}
func (*InvoicePaid) isEvent()          {}
func (*InvoicePaymentFailed) isEvent() {}
func (*Unrecognized) isEvent()         {}

// Minimal wire shapes. Expandable references arrive either as a bare id
// string or as an object; expandableID accepts both.

type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type wireCheckoutSession struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type wireSubscription struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Status            string            `json:"status"`
	Created           int64             `json:"created"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	TrialEnd          int64             `json:"trial_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type wireInvoice struct {
	ID           string            `json:"id"`
	Customer     expandableID      `json:"customer"`
	Subscription expandableID      `json:"subscription"`
	AttemptCount int64             `json:"attempt_count"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// ParseEvent decodes the data object of a verified event into its variant.
func ParseEvent(meta EventMeta, raw json.RawMessage) (Event, error) {
	switch meta.Type {
	case EventCheckoutCompleted:
		var s wireCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		ref := refFromMetadata(s.Metadata, string(s.Customer))
		if ref.TenantID == "" {
			ref.TenantID = s.ClientReferenceID
		}
		return &CheckoutCompleted{
			EventMeta:      meta,
			Ref:            ref,
			SessionID:      s.ID,
			SubscriptionID: string(s.Subscription),
			PlanKey:        s.Metadata[MetadataPlanKey],
		}, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var s wireSubscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		sub := s.toSubscription()
		return &SubscriptionChanged{
			EventMeta:    meta,
			Ref:          refFromMetadata(s.Metadata, sub.CustomerID),
			Subscription: sub,
			Deleted:      meta.Type == EventSubscriptionDeleted,
		}, nil

	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv wireInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		subID, md := string(inv.Subscription), inv.Metadata
		if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			if subID == "" {
				subID = string(inv.Parent.SubscriptionDetails.Subscription)
			}
			if len(md) == 0 {
				md = inv.Parent.SubscriptionDetails.Metadata
			}
		}
		ref := refFromMetadata(md, string(inv.Customer))
		if meta.Type == EventInvoicePaid {
			return &InvoicePaid{EventMeta: meta, Ref: ref, InvoiceID: inv.ID, SubscriptionID: subID}, nil
		}
		return &InvoicePaymentFailed{
			EventMeta:      meta,
			Ref:            ref,
			InvoiceID:      inv.ID,
			SubscriptionID: subID,
			AttemptCount:   inv.AttemptCount,
		}, nil

	default:
		return &Unrecognized{EventMeta: meta}, nil
	}
}

func (s wireSubscription) toSubscription() Subscription {
	sub := Subscription{
		ID:                s.ID,
		CustomerID:        string(s.Customer),
		Status:            s.Status,
		Created:           unixTime(s.Created),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
		CurrentPeriodEnd:  unixTimePtr(s.CurrentPeriodEnd),
		TrialEnd:          unixTimePtr(s.TrialEnd),
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		sub.PriceID = item.Price.ID
		if item.CurrentPeriodEnd != 0 {
			sub.CurrentPeriodEnd = unixTimePtr(item.CurrentPeriodEnd)
		}
	}
	return sub
}

func refFromMetadata(md map[string]string, customerID string) TenantRef {
	return TenantRef{
		TenantID:   md[MetadataTenantID],
		TenantKey:  md[MetadataTenantKey],
		CustomerID: customerID,
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
