// Package billing drives the purchase state machine on top of a store
// billing backend: connection lifecycle, purchase flows, acknowledgment and
// entitlement.
package billing

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs an established
	// backend connection.
	ErrNotConnected = errors.New("billing backend not connected")
	// ErrUnknownProduct is returned for a product id missing from the catalog.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrNoPurchasesFound is returned by Restore when no entitlement turned up.
	ErrNoPurchasesFound = errors.New("no purchases found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("billing manager closed")
)

// Product ids sold by the app.
const (
	ProductPremiumMonthly  = "premium_monthly"
	ProductPremiumYearly   = "premium_yearly"
	ProductPremiumLifetime = "premium_lifetime"
)

// ProductType distinguishes subscriptions from one-time purchases.
type ProductType string

const (
	ProductTypeSubs  ProductType = "subs"
	ProductTypeInApp ProductType = "inapp"
)

// Catalog maps every product id to its type.
var Catalog = map[string]ProductType{
	ProductPremiumMonthly:  ProductTypeSubs,
	ProductPremiumYearly:   ProductTypeSubs,
	ProductPremiumLifetime: ProductTypeInApp,
}

func catalogIDs(typ ProductType) []string {
	var ids []string
	for _, id := range []string{ProductPremiumMonthly, ProductPremiumYearly, ProductPremiumLifetime} {
		if Catalog[id] == typ {
			ids = append(ids, id)
		}
	}
	return ids
}

// ConnectionStatus is the coarse state of the backend connection.
type ConnectionStatus int

const (
	StatusIdle ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ConnectionState is the observable connection state. Message is only set
// for StatusError.
type ConnectionState struct {
	Status  ConnectionStatus
	Message string
}

// ResultKind is the outcome of a purchase attempt.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultCancelled
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultCancelled:
		return "cancelled"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("result(%d)", int(k))
}

// PurchaseResult is the outcome of the most recent purchase attempt.
type PurchaseResult struct {
	Kind    ResultKind
	Message string
}

// ProductDetails describes one purchasable product.
type ProductDetails struct {
	ID          string
	Type        ProductType
	Title       string
	Price       string
	OfferTokens []string
}

// PurchaseState mirrors the backend's purchase state.
type PurchaseState int

const (
	PurchaseUnspecified PurchaseState = iota
	PurchasePurchased
	PurchasePending
)

// Purchase is a purchase record reported by the backend.
type Purchase struct {
	ProductIDs   []string
	Token        string
	State        PurchaseState
	Acknowledged bool
}

// ResponseCode is the backend's status for an asynchronous purchase update.
type ResponseCode int

const (
	ResponseOK ResponseCode = iota
	ResponseUserCanceled
	ResponseError
)

// Response accompanies a purchase update.
type Response struct {
	Code         ResponseCode
	DebugMessage string
}

// FlowParams selects what a purchase flow sells.
type FlowParams struct {
	ProductID  string
	Type       ProductType
	OfferToken string
}

// Listener receives the backend's asynchronous callbacks.
type Listener interface {
	OnSetupFinished(err error)
	OnDisconnected()
	OnPurchasesUpdated(resp Response, purchases []Purchase)
}

// Backend is the vendor billing SDK. Implementations deliver the outcome of
// StartConnection and LaunchPurchaseFlow through the Listener.
type Backend interface {
	StartConnection(l Listener)
	EndConnection()
	QueryProductDetails(ctx context.Context, typ ProductType, ids []string) ([]ProductDetails, error)
	LaunchPurchaseFlow(ctx context.Context, params FlowParams) error
	Acknowledge(ctx context.Context, purchaseToken string) error
	QueryPurchases(ctx context.Context, typ ProductType) ([]Purchase, error)
}
