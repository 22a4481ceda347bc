package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
)

// MetadataOrderIDKey is the session metadata key carrying the originating order id.
const MetadataOrderIDKey = "order_id"

// MetadataAttemptKey carries the retry attempt number that issued the session.
const MetadataAttemptKey = "attempt"

// SessionStatus is the coarse gateway-side state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
	SessionNotFound SessionStatus = "not_found"
)

// SessionState is the gateway's view of a checkout session after a lookup.
type SessionState struct {
	ID              string
	Status          SessionStatus
	URL             string
	PaymentIntentID string
	Metadata        map[string]string
}

// SessionLineItem is a priced line carried into a new checkout session.
// Amounts are integer cents captured at order time.
type SessionLineItem struct {
	Name           string
	Qty            int64
	UnitPriceCents int64
}

// SessionRequest describes a checkout session to be created.
type SessionRequest struct {
	OrderID       string
	AttemptNumber int
	CustomerEmail string
	Currency      string
	Items         []SessionLineItem
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
}

// CreatedSession is the result of issuing a new checkout session.
type CreatedSession struct {
	ID  string
	URL string
}

// CheckoutGateway is the subset of gateway operations the payment flows need.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*CreatedSession, error)
	GetSession(ctx context.Context, sessionID string) (*SessionState, error)
}

type checkoutGateway struct {
	api *stripe.Client
}

// NewCheckoutGateway wraps the Stripe client for checkout session operations.
func NewCheckoutGateway(client *Client) (CheckoutGateway, error) {
	if client == nil || client.API() == nil {
		return nil, errors.New("stripe client is required")
	}
	return &checkoutGateway{api: client.API()}, nil
}

func (g *checkoutGateway) CreateSession(ctx context.Context, req SessionRequest) (*CreatedSession, error) {
	if req.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required for checkout session")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session requires at least one line item")
	}

	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			Quantity: stripe.Int64(item.Qty),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(item.UnitPriceCents),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  lineItems,
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata: map[string]string{
			MetadataOrderIDKey: req.OrderID,
			MetadataAttemptKey: fmt.Sprintf("%d", req.AttemptNumber),
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}

	session, err := g.api.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, classifyError(err, "creating checkout session")
	}
	return &CreatedSession{ID: session.ID, URL: session.URL}, nil
}

func (g *checkoutGateway) GetSession(ctx context.Context, sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	session, err := g.api.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		classified := classifyError(err, "retrieving checkout session")
		if appErr := pkgerrors.As(classified); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			return &SessionState{ID: sessionID, Status: SessionNotFound}, nil
		}
		return nil, classified
	}
	return sessionStateFrom(session), nil
}

func sessionStateFrom(session *stripe.CheckoutSession) *SessionState {
	state := &SessionState{
		ID:       session.ID,
		URL:      session.URL,
		Metadata: session.Metadata,
	}
	switch session.Status {
	case stripe.CheckoutSessionStatusComplete:
		state.Status = SessionComplete
	case stripe.CheckoutSessionStatusExpired:
		state.Status = SessionExpired
	default:
		state.Status = SessionOpen
	}
	if session.PaymentIntent != nil {
		state.PaymentIntentID = session.PaymentIntent.ID
	}
	return state
}

// classifyError maps Stripe failures onto the platform error taxonomy.
// Server-side faults and rate limits are retryable dependency errors;
// everything else the gateway rejected outright.
func classifyError(err error, action string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, action+": session not found")
		case stripeErr.HTTPStatusCode >= 500:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action+": gateway unavailable")
		case stripeErr.HTTPStatusCode == 429 || stripeErr.Code == stripe.ErrorCodeRateLimit:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action+": gateway rate limited")
		default:
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, action+": gateway rejected request")
		}
	}
	// Transport-level failures (timeouts, connection resets) are retryable.
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action+": gateway unreachable")
}
