package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicecoach/coach/internal/docstore"
)

var errTokenNotFound = errors.New("purchase token not found")

const ledgerSetupTimeout = 10 * time.Second

// Display prices of the catalog on the ledger backend.
var ledgerPrices = map[string]string{
	ProductPremiumMonthly:  "$4.99",
	ProductPremiumYearly:   "$39.99",
	ProductPremiumLifetime: "$79.99",
}

var ledgerTitles = map[string]string{
	ProductPremiumMonthly:  "Premium (monthly)",
	ProductPremiumYearly:   "Premium (yearly)",
	ProductPremiumLifetime: "Premium (lifetime)",
}

type ledgerEntry struct {
	ProductID    string    `json:"productId"`
	Token        string    `json:"token"`
	Acknowledged bool      `json:"acknowledged"`
	PurchasedAt  time.Time `json:"purchasedAt"`
}

type ledgerDoc struct {
	Purchases []ledgerEntry `json:"purchases"`
}

// LedgerBackend is a Backend over purchase records kept in the remote
// document store under purchases/{installationID}. Purchase flows complete
// immediately. It is what the headless binary bills against.
type LedgerBackend struct {
	docs *docstore.Store
	path string

	mu       sync.Mutex
	listener Listener
}

func NewLedgerBackend(docs *docstore.Store, installationID string) *LedgerBackend {
	return &LedgerBackend{docs: docs, path: "purchases/" + installationID}
}

// StartConnection reports setup once the document store answers.
func (b *LedgerBackend) StartConnection(l Listener) {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerSetupTimeout)
		defer cancel()
		_, err := b.docs.ServerTime(ctx)
		if err != nil {
			err = fmt.Errorf("reaching purchase ledger: %w", err)
		}
		l.OnSetupFinished(err)
	}()
}

func (b *LedgerBackend) EndConnection() {
	b.mu.Lock()
	b.listener = nil
	b.mu.Unlock()
}

func (b *LedgerBackend) current() Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener
}

func (b *LedgerBackend) QueryProductDetails(_ context.Context, typ ProductType, ids []string) ([]ProductDetails, error) {
	out := make([]ProductDetails, 0, len(ids))
	for _, id := range ids {
		if t, ok := Catalog[id]; !ok || t != typ {
			continue
		}
		d := ProductDetails{ID: id, Type: typ, Title: ledgerTitles[id], Price: ledgerPrices[id]}
		if typ == ProductTypeSubs {
			d.OfferTokens = []string{id + ":base"}
		}
		out = append(out, d)
	}
	return out, nil
}

// LaunchPurchaseFlow records the purchase and reports it to the listener.
func (b *LedgerBackend) LaunchPurchaseFlow(ctx context.Context, params FlowParams) error {
	l := b.current()
	if l == nil {
		return ErrNotConnected
	}

	entry := ledgerEntry{ProductID: params.ProductID, Token: uuid.NewString()}
	err := b.docs.RunTransaction(ctx, b.path, func(ctx context.Context, tx *docstore.Tx) error {
		var doc ledgerDoc
		if err := tx.Get(ctx, &doc); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}
		entry.PurchasedAt = now
		doc.Purchases = append(doc.Purchases, entry)
		return tx.Set(doc)
	})
	if err != nil {
		return fmt.Errorf("recording purchase: %w", err)
	}

	slog.Info("billing: ledger purchase recorded", "product", params.ProductID)
	go l.OnPurchasesUpdated(Response{Code: ResponseOK}, []Purchase{entry.purchase()})
	return nil
}

func (b *LedgerBackend) Acknowledge(ctx context.Context, token string) error {
	return b.docs.RunTransaction(ctx, b.path, func(ctx context.Context, tx *docstore.Tx) error {
		var doc ledgerDoc
		if err := tx.Get(ctx, &doc); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return errTokenNotFound
			}
			return err
		}
		for i := range doc.Purchases {
			if doc.Purchases[i].Token == token {
				doc.Purchases[i].Acknowledged = true
				return tx.Set(doc)
			}
		}
		return errTokenNotFound
	})
}

func (b *LedgerBackend) QueryPurchases(ctx context.Context, typ ProductType) ([]Purchase, error) {
	var doc ledgerDoc
	if err := b.docs.Get(ctx, b.path, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var out []Purchase
	for _, e := range doc.Purchases {
		if Catalog[e.ProductID] == typ {
			out = append(out, e.purchase())
		}
	}
	return out, nil
}

func (e ledgerEntry) purchase() Purchase {
	return Purchase{
		ProductIDs:   []string{e.ProductID},
		Token:        e.Token,
		State:        PurchasePurchased,
		Acknowledged: e.Acknowledged,
	}
}
