// Package state provides the in-memory store for venue-pushed session state.
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfeed/venuelink/internal/schema"
)

// Listeners bundles the change-notification callbacks fired on every
// mutation. Callbacks run synchronously on the transport's receive
// goroutine, so they must return quickly. A nil callback is skipped.
type Listeners struct {
	BalanceChanged func(schema.Balance)
	OrderOpened    func(schema.Order)
	OrderFailed    func(schema.OrderFailure)
	OrderClosed    func(schema.ClosedOrder)
	AssetsUpdated  func(count int)
	QuoteUpdated   func(schema.Quote)
	HistoryUpdated func(schema.HistoryKey)
}

// Store holds all state the venue pushes over the session socket. Writes come
// from a single goroutine per transport; reads may come from any goroutine
// and always receive copies.
type Store struct {
	mu sync.RWMutex

	balance      *schema.Balance
	order        *schema.Order
	orderFailure *schema.OrderFailure

	closedProfits map[string]decimal.Decimal

	assets []schema.Asset

	latestQuotes map[string]schema.Quote
	quotes       *quoteRing

	history    map[schema.HistoryKey]schema.HistoryBundle
	historyCap int

	serverTime time.Time

	listeners Listeners
}

// New creates a store with the given quote-ring and history-cache capacities.
func New(quoteCapacity, historyCapacity int) *Store {
	if historyCapacity <= 0 {
		historyCapacity = 128
	}
	s := new(Store)
	s.closedProfits = make(map[string]decimal.Decimal)
	s.latestQuotes = make(map[string]schema.Quote)
	s.quotes = newQuoteRing(quoteCapacity)
	s.history = make(map[schema.HistoryKey]schema.HistoryBundle)
	s.historyCap = historyCapacity
	return s
}

// SetListeners installs the notification callbacks. Must be called before the
// transport starts feeding the store.
func (s *Store) SetListeners(listeners Listeners) {
	s.mu.Lock()
	s.listeners = listeners
	s.mu.Unlock()
}

// Reset clears all state back to initial empty values.
func (s *Store) Reset() {
	s.mu.Lock()
	s.balance = nil
	s.order = nil
	s.orderFailure = nil
	s.closedProfits = make(map[string]decimal.Decimal)
	s.assets = nil
	s.latestQuotes = make(map[string]schema.Quote)
	s.quotes.reset()
	s.history = make(map[schema.HistoryKey]schema.HistoryBundle)
	s.serverTime = time.Time{}
	s.mu.Unlock()
}

// SetBalance replaces the balance record and stamps the update time.
func (s *Store) SetBalance(balance schema.Balance) {
	balance.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	b := balance
	s.balance = &b
	notify := s.listeners.BalanceChanged
	s.mu.Unlock()
	if notify != nil {
		notify(balance)
	}
}

// SetAccountMode flips the active ledger flag on the stored balance. When no
// balance exists yet a mode-only record is created so a later push merges in.
func (s *Store) SetAccountMode(mode schema.AccountMode) {
	s.mu.Lock()
	if s.balance == nil {
		s.balance = &schema.Balance{Mode: mode}
	} else {
		s.balance.Mode = mode
	}
	s.balance.UpdatedAt = time.Now().UTC()
	balance := *s.balance
	notify := s.listeners.BalanceChanged
	s.mu.Unlock()
	if notify != nil {
		notify(balance)
	}
}

// Balance returns a copy of the current balance record.
func (s *Store) Balance() (schema.Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.balance == nil {
		return schema.Balance{}, false
	}
	return *s.balance, true
}

// ClearBalance empties the balance slot ahead of a fresh request.
func (s *Store) ClearBalance() {
	s.mu.Lock()
	s.balance = nil
	s.mu.Unlock()
}

// SetOrder records a confirmed order and clears any prior failure.
func (s *Store) SetOrder(order schema.Order) {
	s.mu.Lock()
	o := order
	s.order = &o
	s.orderFailure = nil
	notify := s.listeners.OrderOpened
	s.mu.Unlock()
	if notify != nil {
		notify(order)
	}
}

// SetOrderFailure records a rejected order and clears any prior confirmation.
func (s *Store) SetOrderFailure(failure schema.OrderFailure) {
	s.mu.Lock()
	f := failure
	s.orderFailure = &f
	s.order = nil
	notify := s.listeners.OrderFailed
	s.mu.Unlock()
	if notify != nil {
		notify(failure)
	}
}

// Order returns a copy of the in-flight order slot.
func (s *Store) Order() (schema.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.order == nil {
		return schema.Order{}, false
	}
	return *s.order, true
}

// OrderFailure returns a copy of the order-failure slot.
func (s *Store) OrderFailure() (schema.OrderFailure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.orderFailure == nil {
		return schema.OrderFailure{}, false
	}
	return *s.orderFailure, true
}

// ClearOrderState empties both order slots. Called immediately before every
// order send: correlation correctness depends on at-most-one in-flight order.
func (s *Store) ClearOrderState() {
	s.mu.Lock()
	s.order = nil
	s.orderFailure = nil
	s.mu.Unlock()
}

// AddClosedOrder records a settled order's profit. The first write for a
// given order id wins; duplicate close pushes are ignored.
func (s *Store) AddClosedOrder(closed schema.ClosedOrder) bool {
	s.mu.Lock()
	if _, exists := s.closedProfits[closed.OrderID]; exists {
		s.mu.Unlock()
		return false
	}
	s.closedProfits[closed.OrderID] = closed.Profit
	notify := s.listeners.OrderClosed
	s.mu.Unlock()
	if notify != nil {
		notify(closed)
	}
	return true
}

// ClosedProfit returns the realized profit for the given order id.
func (s *Store) ClosedProfit(orderID string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profit, ok := s.closedProfits[orderID]
	return profit, ok
}

// ReplaceAssets swaps the whole tradable-asset catalog, matching the venue's
// periodic full re-push.
func (s *Store) ReplaceAssets(assets []schema.Asset) {
	snapshot := make([]schema.Asset, len(assets))
	copy(snapshot, assets)
	s.mu.Lock()
	s.assets = snapshot
	notify := s.listeners.AssetsUpdated
	s.mu.Unlock()
	if notify != nil {
		notify(len(snapshot))
	}
}

// Assets returns a copy of the tradable-asset catalog.
func (s *Store) Assets() []schema.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.assets) == 0 {
		return nil
	}
	out := make([]schema.Asset, len(s.assets))
	copy(out, s.assets)
	return out
}

// ApplyQuote overwrites the latest quote for the pair and appends to the
// bounded history ring.
func (s *Store) ApplyQuote(quote schema.Quote) {
	s.mu.Lock()
	s.latestQuotes[quote.Pair] = quote
	s.quotes.append(quote)
	if quote.At.After(s.serverTime) {
		s.serverTime = quote.At
	}
	notify := s.listeners.QuoteUpdated
	s.mu.Unlock()
	if notify != nil {
		notify(quote)
	}
}

// LatestQuote returns the most recent quote seen for the pair.
func (s *Store) LatestQuote(pair string) (schema.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.latestQuotes[pair]
	return quote, ok
}

// QuoteHistory returns the buffered quote stream oldest first.
func (s *Store) QuoteHistory() []schema.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quotes.snapshot()
}

// ServerTime reports the latest venue timestamp observed on the quote stream.
func (s *Store) ServerTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverTime
}

// PutHistory replaces the bundle stored for the bundle's (asset, period) key.
// The cache is capped; above the cap an arbitrary entry is evicted. Map
// iteration order makes the victim unpredictable, which is acceptable for a
// cache refreshed wholesale by the venue.
func (s *Store) PutHistory(bundle schema.HistoryBundle) {
	key := schema.HistoryKey{Asset: bundle.Asset, Period: bundle.Period}
	s.mu.Lock()
	if _, exists := s.history[key]; !exists && len(s.history) >= s.historyCap {
		for victim := range s.history {
			if victim != key {
				delete(s.history, victim)
				break
			}
		}
	}
	s.history[key] = bundle.Clone()
	notify := s.listeners.HistoryUpdated
	s.mu.Unlock()
	if notify != nil {
		notify(key)
	}
}

// History returns a deep copy of the bundle for (asset, period).
func (s *Store) History(asset string, period int) (schema.HistoryBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bundle, ok := s.history[schema.HistoryKey{Asset: asset, Period: period}]
	if !ok {
		return schema.HistoryBundle{}, false
	}
	return bundle.Clone(), true
}

// ClearHistory drops the bundle for (asset, period) ahead of a fresh request.
func (s *Store) ClearHistory(asset string, period int) {
	s.mu.Lock()
	delete(s.history, schema.HistoryKey{Asset: asset, Period: period})
	s.mu.Unlock()
}

// HistoryLen reports the number of cached bundles.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
