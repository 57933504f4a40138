// Package gateway wraps the Stripe checkout session API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Metadata keys written on checkout sessions.
const (
	MetaUserID    = "userId"
	MetaCourseID  = "courseId"
	MetaBundleID  = "bundleId"
	MetaPaymentID = "paymentId"
	MetaType      = "type"
)

// ErrNotConfigured is returned when no Stripe secret key is set.
var ErrNotConfigured = errors.New("stripe not configured")

// Session is the part of a Stripe checkout session reconciliation needs.
type Session struct {
	ID              string
	Paid            bool
	PaymentIntentID string
	Metadata        map[string]string
}

// Expected is the purchase context a session must belong to.
type Expected struct {
	UserID    uuid.UUID
	CourseID  *uuid.UUID
	BundleID  *uuid.UUID
	PaymentID uuid.UUID
}

// Matches reports whether the session metadata exactly names the expected purchase.
func (s *Session) Matches(e Expected) bool {
	if s == nil || s.Metadata == nil {
		return false
	}
	m := s.Metadata
	if m[MetaUserID] != e.UserID.String() || m[MetaPaymentID] != e.PaymentID.String() {
		return false
	}
	switch {
	case e.BundleID != nil && e.CourseID == nil:
		return m[MetaType] == "bundle" && m[MetaBundleID] == e.BundleID.String() && m[MetaCourseID] == ""
	case e.CourseID != nil && e.BundleID == nil:
		return m[MetaType] == "course" && m[MetaCourseID] == e.CourseID.String() && m[MetaBundleID] == ""
	default:
		return false
	}
}

// PaidFor reports whether the session is paid and belongs to e. A mismatch is "not paid", never an error.
func (s *Session) PaidFor(e Expected) bool {
	return s != nil && s.Paid && s.Matches(e)
}

// Sessions retrieves checkout sessions.
type Sessions interface {
	GetSession(ctx context.Context, id string) (*Session, error)
}

// Stripe implements Sessions with stripe-go.
type Stripe struct {
	client        *session.Client
	webhookSecret string
}

// NewStripe creates a Stripe gateway.
func NewStripe(secretKey, webhookSecret string) *Stripe {
	var c *session.Client
	if secretKey != "" {
		c = &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
	}
	return &Stripe{client: c, webhookSecret: webhookSecret}
}

// GetSession retrieves one checkout session.
func (s *Stripe) GetSession(ctx context.Context, id string) (*Session, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.client.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return fromStripe(cs), nil
}

func fromStripe(cs *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:       cs.ID,
		Paid:     cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Metadata: cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	return out
}

// CompletedSession parses a verified webhook payload. It returns nil, nil for events other than
// checkout.session.completed.
func (s *Stripe) CompletedSession(payload []byte, signature string) (*Session, error) {
	if s.webhookSecret == "" {
		return nil, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	return ParseCompletedSession(ev)
}

// ParseCompletedSession extracts the session from a checkout.session.completed event.
func ParseCompletedSession(ev stripe.Event) (*Session, error) {
	if ev.Type != stripe.EventTypeCheckoutSessionCompleted {
		return nil, nil
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	return fromStripe(&cs), nil
}
