// Package cart holds the session shopping cart: an ordered list of line items
// keyed by product id, with a derived total that is recomputed and persisted
// after every mutation.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"goflare.io/storefront/models"
)

var errInvalidSnapshot = errors.New("invalid cart snapshot")

// Option configures a Store.
type Option func(*Store)

// WithStrict makes operations on absent products and non-positive AddItem
// quantities return errors instead of silently doing nothing.
func WithStrict(strict bool) Option {
	return func(s *Store) {
		s.strict = strict
	}
}

// Store is the cart of one client session.
type Store struct {
	mu         sync.RWMutex
	items      []models.CartLineItem
	totalPrice float64

	slot   Slot
	strict bool
	logger *zap.Logger
}

// New returns an empty Store bound to slot. Call Hydrate to load the
// persisted snapshot.
func New(slot Slot, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		items:  make([]models.CartLineItem, 0),
		slot:   slot,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns a Store hydrated from slot. The store is usable even when an
// error is returned; it then starts empty.
func Open(ctx context.Context, slot Slot, logger *zap.Logger, opts ...Option) (*Store, error) {
	s := New(slot, logger, opts...)
	return s, s.Hydrate(ctx)
}

// Hydrate replaces the in-memory cart with the persisted snapshot. An absent,
// empty or malformed snapshot yields an empty cart and no error; a failed read
// yields an empty cart and ErrPersistenceUnavailable.
func (s *Store) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]models.CartLineItem, 0)
	s.totalPrice = 0

	data, err := s.slot.Load(ctx)
	if err != nil {
		s.logger.Warn("Failed to load cart snapshot", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	items, err := DecodeSnapshot(data)
	if err != nil {
		s.logger.Warn("Discarding unreadable cart snapshot", zap.Error(err))
		return nil
	}

	s.items = items
	s.recalculate()
	return nil
}

// AddItem merges quantity into the line for p, or appends a new line
// snapshotting p's name, image, price and stock. The merged quantity is not
// clamped to the stock snapshot.
func (s *Store) AddItem(ctx context.Context, p *models.Product, quantity int) error {
	if p == nil || p.ID == "" {
		if s.strict {
			return ErrInvalidProduct
		}
		return nil
	}
	if quantity < 1 {
		if s.strict {
			return ErrInvalidQuantity
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(p.ID); i >= 0 {
		s.items[i].Quantity += quantity
	} else {
		s.items = append(s.items, models.NewCartLineItem(p, quantity))
	}

	return s.commit(ctx)
}

// UpdateQuantity sets the line's quantity exactly; quantity <= 0 removes the
// line. Callers clamp to [1, CountInStock] themselves, see ClampQuantity.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(productID)
	if i < 0 {
		if s.strict {
			return ErrProductNotFound
		}
		return nil
	}

	if quantity <= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	} else {
		s.items[i].Quantity = quantity
	}

	return s.commit(ctx)
}

// RemoveItem deletes the line for productID.
func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(productID)
	if i < 0 {
		if s.strict {
			return ErrProductNotFound
		}
		return nil
	}

	s.items = append(s.items[:i], s.items[i+1:]...)
	return s.commit(ctx)
}

// Clear empties the cart and persists the empty snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]models.CartLineItem, 0)
	return s.commit(ctx)
}

// RemoveOrdered takes the ordered quantities out of the cart and drops lines
// that reach zero. Units added after the order snapshot was taken stay.
func (s *Store) RemoveOrdered(ctx context.Context, ordered []models.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range ordered {
		i := s.indexOf(o.ProductID)
		if i < 0 {
			continue
		}
		if s.items[i].Quantity <= o.Quantity {
			s.items = append(s.items[:i], s.items[i+1:]...)
		} else {
			s.items[i].Quantity -= o.Quantity
		}
	}

	return s.commit(ctx)
}

// Items returns a copy of the line items in add order.
func (s *Store) Items() []models.CartLineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CartLineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Item returns the line for productID.
func (s *Store) Item(productID string) (models.CartLineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(productID); i >= 0 {
		return s.items[i], true
	}
	return models.CartLineItem{}, false
}

func (s *Store) TotalPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.totalPrice
}

// ItemCount returns the number of units across all lines.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, item := range s.items {
		n += item.Quantity
	}
	return n
}

func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items) == 0
}

// Snapshot returns the order lines and total handed to the order service.
func (s *Store) Snapshot() models.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderItems := make([]models.OrderItem, 0, len(s.items))
	for _, item := range s.items {
		orderItems = append(orderItems, models.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
	}

	return models.CartSnapshot{
		Items:      orderItems,
		TotalPrice: total(s.items),
	}
}

// ClampQuantity bounds quantity to [1, item.CountInStock]. A line whose stock
// snapshot is zero or below is bounded to 1.
func ClampQuantity(item models.CartLineItem, quantity int) int {
	upper := item.CountInStock
	if upper < 1 {
		upper = 1
	}
	return max(1, min(quantity, upper))
}

// commit recomputes the total and writes the snapshot. The mutation is kept
// even when the write fails.
func (s *Store) commit(ctx context.Context) error {
	s.recalculate()

	data, err := EncodeSnapshot(s.items)
	if err != nil {
		return fmt.Errorf("failed to encode cart snapshot: %w", err)
	}

	if err = s.slot.Save(ctx, data); err != nil {
		s.logger.Warn("Failed to persist cart snapshot",
			zap.Int("items", len(s.items)),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	return nil
}

func (s *Store) recalculate() {
	s.totalPrice = total(s.items)
}

func (s *Store) indexOf(productID string) int {
	for i := range s.items {
		if s.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func total(items []models.CartLineItem) float64 {
	var sum float64
	for _, item := range items {
		sum += item.Subtotal()
	}
	return sum
}

// EncodeSnapshot serializes items in the slot format.
func EncodeSnapshot(items []models.CartLineItem) ([]byte, error) {
	if items == nil {
		items = []models.CartLineItem{}
	}
	return json.Marshal(items)
}

// DecodeSnapshot parses a slot value. Empty input decodes to an empty list;
// anything that is not an array of well-formed, unique line items is an error.
func DecodeSnapshot(data []byte) ([]models.CartLineItem, error) {
	items := make([]models.CartLineItem, 0)
	if len(data) == 0 {
		return items, nil
	}

	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidSnapshot, err)
	}
	if items == nil {
		return make([]models.CartLineItem, 0), nil
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 || item.Price < 0 {
			return nil, fmt.Errorf("%w: malformed line for product %q", errInvalidSnapshot, item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %q", errInvalidSnapshot, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}

	return items, nil
}
