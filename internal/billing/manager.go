package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/voicecoach/coach/internal/metrics"
	inats "github.com/voicecoach/coach/internal/nats"
	"github.com/voicecoach/coach/internal/observable"
	"github.com/voicecoach/coach/internal/prefs"
)

const defaultRestoreTimeout = 3 * time.Second

// UserIDSource yields the signed-in user's id for event payloads.
type UserIDSource interface {
	UserID() string
}

// Manager owns the single billing connection of the process. Callbacks
// from the backend may arrive on any goroutine.
type Manager struct {
	backend        Backend
	prefs          *prefs.Store
	publisher      inats.EventPublisher
	users          UserIDSource
	clock          quartz.Clock
	restoreTimeout time.Duration
	installationID string

	// ctx scopes work started from backend callbacks; it ends on Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	products map[string]ProductDetails

	ackMu sync.Mutex
	acked map[string]bool

	conn    *observable.Value[ConnectionState]
	premium *observable.Value[bool]
	result  *observable.Value[*PurchaseResult]
}

type Option func(*Manager)

// WithClock replaces the wall clock used for the restore timeout.
func WithClock(c quartz.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRestoreTimeout overrides how long Restore waits for an entitlement.
func WithRestoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.restoreTimeout = d
		}
	}
}

// WithPublisher sets where purchase events go.
func WithPublisher(p inats.EventPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithUsers attaches the session used to label events.
func WithUsers(u UserIDSource) Option {
	return func(m *Manager) { m.users = u }
}

// WithInstallationID labels events with the installation.
func WithInstallationID(id string) Option {
	return func(m *Manager) { m.installationID = id }
}

// NewManager creates a Manager in the Idle state. Call Connect to start.
func NewManager(backend Backend, store *prefs.Store, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		backend:        backend,
		prefs:          store,
		publisher:      inats.NopPublisher{},
		clock:          quartz.NewReal(),
		restoreTimeout: defaultRestoreTimeout,
		ctx:            ctx,
		cancel:         cancel,
		products:       make(map[string]ProductDetails),
		acked:          make(map[string]bool),
		conn:           observable.NewValue(ConnectionState{Status: StatusIdle}),
		premium:        observable.NewValue(false),
		result:         observable.NewValue[*PurchaseResult](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection exposes the connection state.
func (m *Manager) Connection() observable.Reader[ConnectionState] { return m.conn }

// Premium exposes the entitlement flag as observed from the backend.
func (m *Manager) Premium() observable.Reader[bool] { return m.premium }

// Result exposes the outcome of the latest purchase attempt, nil when
// there is none or it was cleared.
func (m *Manager) Result() observable.Reader[*PurchaseResult] { return m.result }

// ClearResult drops the latest purchase outcome once it has been shown.
func (m *Manager) ClearResult() { m.result.Set(nil) }

// Connect starts connecting unless a connection is already established or
// in progress.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.conn.Get().Status {
	case StatusConnecting, StatusConnected:
		m.mu.Unlock()
		return nil
	}
	m.conn.Set(ConnectionState{Status: StatusConnecting})
	m.mu.Unlock()

	slog.Info("billing: connecting")
	m.backend.StartConnection(listener{m})
	return nil
}

// Reconnect tears down any current connection and connects again.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	wasIdle := m.conn.Get().Status == StatusIdle
	m.conn.Set(ConnectionState{Status: StatusIdle})
	m.mu.Unlock()

	if !wasIdle {
		m.backend.EndConnection()
		metrics.BillingConnectionState.Set(0)
	}
	return m.Connect()
}

// Close ends the connection. The Manager cannot be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	m.mu.Unlock()

	m.backend.EndConnection()
	m.conn.Set(ConnectionState{Status: StatusIdle})
	metrics.BillingConnectionState.Set(0)
	slog.Info("billing: connection closed")
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) connected() bool {
	return m.conn.Get().Status == StatusConnected
}

// Products returns the loaded catalog ordered by product id.
func (m *Manager) Products() []ProductDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProductDetails, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) loadProducts(ctx context.Context) error {
	var errs []error
	for _, typ := range []ProductType{ProductTypeSubs, ProductTypeInApp} {
		details, err := m.backend.QueryProductDetails(ctx, typ, catalogIDs(typ))
		if err != nil {
			errs = append(errs, fmt.Errorf("querying %s products: %w", typ, err))
			continue
		}
		m.mu.Lock()
		for _, d := range details {
			m.products[d.ID] = d
		}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Purchase opens the purchase flow for productID. The outcome arrives
// asynchronously and is reported through Result.
func (m *Manager) Purchase(ctx context.Context, productID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.connected() {
		m.mu.Unlock()
		return ErrNotConnected
	}
	product, ok := m.products[productID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	params := FlowParams{ProductID: product.ID, Type: product.Type}
	if product.Type == ProductTypeSubs && len(product.OfferTokens) > 0 {
		params.OfferToken = product.OfferTokens[0]
	}

	slog.Info("billing: launching purchase flow", "product", productID)
	if err := m.backend.LaunchPurchaseFlow(ctx, params); err != nil {
		m.settle(ctx, PurchaseResult{Kind: ResultError, Message: err.Error()}, []string{productID})
		return fmt.Errorf("launching purchase flow for %s: %w", productID, err)
	}
	return nil
}

// QueryPurchases reconciles entitlement with the purchases the backend
// knows about. Subscriptions and one-time purchases are queried
// independently; a failure of one does not skip the other. Calling it
// repeatedly is safe.
func (m *Manager) QueryPurchases(ctx context.Context) error {
	if !m.connected() {
		return ErrNotConnected
	}
	var errs []error
	for _, typ := range []ProductType{ProductTypeSubs, ProductTypeInApp} {
		purchases, err := m.backend.QueryPurchases(ctx, typ)
		if err != nil {
			errs = append(errs, fmt.Errorf("querying %s purchases: %w", typ, err))
			continue
		}
		for _, p := range purchases {
			if err := m.handlePurchase(ctx, p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Restore re-queries the backend and waits for the entitlement to show up.
// It gives up with ErrNoPurchasesFound once the query finished without
// one, or when the restore timeout passes first.
func (m *Manager) Restore(ctx context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}

	updates, unsubscribe := m.premium.Subscribe()
	defer unsubscribe()

	timer := m.clock.NewTimer(m.restoreTimeout, "billing", "restore")
	defer timer.Stop()

	queried := make(chan error, 1)
	if m.connected() {
		go func() { queried <- m.QueryPurchases(ctx) }()
	} else {
		slog.Info("billing: not connected, reconnecting to restore")
		if err := m.Connect(); err != nil {
			return err
		}
	}

	for {
		select {
		case premium := <-updates:
			if premium {
				m.publishRestore(ctx, nil)
				return nil
			}
		case err := <-queried:
			queried = nil
			if err != nil {
				slog.Warn("billing: restore query failed, waiting for timeout", "error", err)
				continue
			}
			if !m.premium.Get() {
				m.publishRestore(ctx, ErrNoPurchasesFound)
				return ErrNoPurchasesFound
			}
		case <-timer.C:
			if m.premium.Get() {
				m.publishRestore(ctx, nil)
				return nil
			}
			slog.Info("billing: restore timed out", "timeout", m.restoreTimeout)
			m.publishRestore(ctx, ErrNoPurchasesFound)
			return ErrNoPurchasesFound
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handlePurchase acknowledges p if needed and grants the entitlement. A
// purchase that is not in the purchased state is ignored.
func (m *Manager) handlePurchase(ctx context.Context, p Purchase) error {
	if p.State != PurchasePurchased {
		slog.Debug("billing: ignoring purchase", "products", p.ProductIDs, "state", p.State)
		return nil
	}

	if !p.Acknowledged {
		m.ackMu.Lock()
		if !m.acked[p.Token] {
			if err := m.backend.Acknowledge(ctx, p.Token); err != nil {
				m.ackMu.Unlock()
				return fmt.Errorf("acknowledging purchase of %v: %w", p.ProductIDs, err)
			}
			m.acked[p.Token] = true
			slog.Info("billing: purchase acknowledged", "products", p.ProductIDs)
		}
		m.ackMu.Unlock()
	}

	m.grant(ctx)
	return nil
}

func (m *Manager) grant(ctx context.Context) {
	m.premium.Set(true)
	if err := m.prefs.SetPremium(ctx, true); err != nil {
		slog.Warn("billing: caching entitlement", "error", err)
	}
}

func (m *Manager) settle(ctx context.Context, r PurchaseResult, productIDs []string) {
	m.result.Set(&r)
	metrics.PurchasesTotal.WithLabelValues(r.Kind.String()).Inc()

	switch r.Kind {
	case ResultError:
		slog.Error("billing: purchase failed", "products", productIDs, "message", r.Message)
	default:
		slog.Info("billing: purchase settled", "products", productIDs, "result", r.Kind)
	}

	event := inats.PurchaseEvent{
		InstallationID: m.installationID,
		ProductIDs:     productIDs,
		Result:         r.Kind.String(),
		Message:        r.Message,
		Timestamp:      m.clock.Now().UTC(),
	}
	if m.users != nil {
		event.UserID = m.users.UserID()
	}
	if err := m.publisher.PublishPurchaseEvent(ctx, event); err != nil {
		slog.Warn("billing: publishing purchase event", "error", err)
	}
}

func (m *Manager) publishRestore(ctx context.Context, err error) {
	event := inats.PurchaseEvent{
		InstallationID: m.installationID,
		Result:         "restored",
		Timestamp:      m.clock.Now().UTC(),
	}
	if err != nil {
		event.Result = "not_found"
		event.Message = err.Error()
	}
	if m.users != nil {
		event.UserID = m.users.UserID()
	}
	if perr := m.publisher.PublishPurchaseEvent(ctx, event); perr != nil {
		slog.Warn("billing: publishing restore event", "error", perr)
	}
}

func (m *Manager) setupFinished(err error) {
	if m.isClosed() {
		return
	}
	if err != nil {
		slog.Error("billing: setup failed", "error", err)
		m.conn.Set(ConnectionState{Status: StatusError, Message: err.Error()})
		metrics.BillingConnectionState.Set(0)
		return
	}

	// Connected implies the catalog is loaded, so Purchase can follow it.
	if err := m.loadProducts(m.ctx); err != nil {
		slog.Warn("billing: loading products", "error", err)
	}
	state := m.conn.Update(func(s ConnectionState) ConnectionState {
		if s.Status != StatusConnecting {
			return s
		}
		return ConnectionState{Status: StatusConnected}
	})
	if state.Status != StatusConnected {
		slog.Debug("billing: dropping stale setup", "status", state.Status)
		return
	}
	metrics.BillingConnectionState.Set(1)
	slog.Info("billing: connected")

	if err := m.QueryPurchases(m.ctx); err != nil {
		slog.Warn("billing: reconciling purchases", "error", err)
	}
}

func (m *Manager) disconnected() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.conn.Set(ConnectionState{Status: StatusConnecting})
	m.mu.Unlock()

	metrics.BillingConnectionState.Set(0)
	slog.Warn("billing: disconnected, reconnecting")
	m.backend.StartConnection(listener{m})
}

func (m *Manager) purchasesUpdated(resp Response, purchases []Purchase) {
	if m.isClosed() {
		return
	}
	ctx := m.ctx

	var ids []string
	for _, p := range purchases {
		ids = append(ids, p.ProductIDs...)
	}

	switch resp.Code {
	case ResponseOK:
		granted := false
		for _, p := range purchases {
			if err := m.handlePurchase(ctx, p); err != nil {
				m.settle(ctx, PurchaseResult{Kind: ResultError, Message: err.Error()}, ids)
				return
			}
			granted = granted || p.State == PurchasePurchased
		}
		if granted {
			m.settle(ctx, PurchaseResult{Kind: ResultSuccess}, ids)
		}
	case ResponseUserCanceled:
		m.settle(ctx, PurchaseResult{Kind: ResultCancelled}, ids)
	default:
		msg := resp.DebugMessage
		if msg == "" {
			msg = fmt.Sprintf("purchase failed with code %d", resp.Code)
		}
		m.settle(ctx, PurchaseResult{Kind: ResultError, Message: msg}, ids)
	}
}

// listener adapts backend callbacks onto the Manager without exporting
// them on its API.
type listener struct{ m *Manager }

func (l listener) OnSetupFinished(err error) { l.m.setupFinished(err) }
func (l listener) OnDisconnected()           { l.m.disconnected() }
func (l listener) OnPurchasesUpdated(resp Response, purchases []Purchase) {
	l.m.purchasesUpdated(resp, purchases)
}
