// Package processor wraps the Stripe API behind an interface the services
// can fake in tests. The API key is injected into a dedicated client here
// instead of being set process-wide on the SDK.
package processor

import (
	"context"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Metadata keys attached to the checkout session's payment intent. They are
// the only attribution channel available to the webhook path, so they must
// be enough on their own to rebuild a transaction.
const (
	MetaWorkerID    = "worker_id"
	MetaPlatformFee = "platform_fee"
)

// CheckoutParams describes one checkout-session request.
type CheckoutParams struct {
	DestinationAccountID string
	AmountMinor          int64
	FeeMinor             int64
	Currency             string
	ProductName          string
	Metadata             map[string]string
	SuccessURL           string
	CancelURL            string
}

// Balance is a connected account's funds in major units.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
	Currency  string          `json:"currency"`
}

// Client is the outbound surface of the payment processor.
type Client interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)
	CreateConnectedAccount(ctx context.Context, email, name string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateLoginLink(ctx context.Context, accountID string) (string, error)
	GetBalance(ctx context.Context, accountID, currency string) (Balance, error)
}

type stripeClient struct {
	api *client.API
}

// New builds a Stripe-backed Client with an explicitly injected key.
func New(secretKey string) Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &stripeClient{api: api}
}

func (c *stripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					UnitAmount: stripe.Int64(p.AmountMinor),
					Currency:   stripe.String(p.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(p.FeeMinor),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(p.DestinationAccountID),
			},
			Metadata: p.Metadata,
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", err
	}
	return sess.URL, nil
}

func (c *stripeClient) CreateConnectedAccount(ctx context.Context, email, name string) (string, error) {
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String("SK"),
		Email:   stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata("worker_name", name)
	acct, err := c.api.Accounts.New(params)
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

func (c *stripeClient) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	params.Context = ctx
	link, err := c.api.AccountLinks.New(params)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func (c *stripeClient) CreateLoginLink(ctx context.Context, accountID string) (string, error) {
	params := &stripe.LoginLinkParams{
		Account: stripe.String(accountID),
	}
	params.Context = ctx
	link, err := c.api.LoginLinks.New(params)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func (c *stripeClient) GetBalance(ctx context.Context, accountID, currency string) (Balance, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)
	bal, err := c.api.Balance.Get(params)
	if err != nil {
		return Balance{}, err
	}
	out := Balance{Currency: currency}
	for _, a := range bal.Available {
		if string(a.Currency) == currency {
			out.Available = decimal.NewFromInt(a.Amount).Shift(-2)
		}
	}
	for _, a := range bal.Pending {
		if string(a.Currency) == currency {
			out.Pending = decimal.NewFromInt(a.Amount).Shift(-2)
		}
	}
	return out, nil
}
