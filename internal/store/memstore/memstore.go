// Package memstore is an in-process implementation of every repository, used
// by tests and by STORE_DRIVER=memory.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/storefront-core/internal/catalog"
	"github.com/noah-isme/storefront-core/internal/events"
	"github.com/noah-isme/storefront-core/internal/order"
	"github.com/noah-isme/storefront-core/internal/reviews"
	"github.com/noah-isme/storefront-core/internal/store"
)

var (
	_ catalog.Repository = (*Products)(nil)
	_ order.Repository   = (*Orders)(nil)
	_ reviews.Repository = (*Reviews)(nil)
	_ events.Store       = (*Events)(nil)
)

// Products implements catalog.Repository.
type Products struct {
	mu    sync.RWMutex
	items map[string]catalog.Product
}

// NewProducts seeds a product repository.
func NewProducts(seed ...catalog.Product) *Products {
	p := &Products{items: make(map[string]catalog.Product, len(seed))}
	for _, it := range seed {
		p.items[it.ID] = it
	}
	return p
}

func (p *Products) Get(_ context.Context, id string) (catalog.Product, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.items[id]
	if !ok {
		return catalog.Product{}, store.ErrNotFound
	}
	return it, nil
}

func (p *Products) List(_ context.Context, limit, offset int) ([]catalog.Product, int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	all := make([]catalog.Product, 0, len(p.items))
	for _, it := range p.items {
		all = append(all, it)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, limit, offset), len(all), nil
}

func (p *Products) Upsert(_ context.Context, prod catalog.Product) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod.UpdatedAt = time.Now().UTC()
	p.items[prod.ID] = prod
	return nil
}

func (p *Products) UpdateRating(_ context.Context, id string, rating float64, numReviews int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.items[id]
	if !ok {
		return store.ErrNotFound
	}
	it.Rating = rating
	it.NumReviews = numReviews
	it.UpdatedAt = time.Now().UTC()
	p.items[id] = it
	return nil
}

// Orders implements order.Repository.
type Orders struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]order.Order
	byNumber map[string]uuid.UUID
}

// NewOrders returns an empty order repository.
func NewOrders() *Orders {
	return &Orders{byID: map[uuid.UUID]order.Order{}, byNumber: map[string]uuid.UUID{}}
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	if o.BillingAddress != nil {
		b := *o.BillingAddress
		o.BillingAddress = &b
	}
	if o.BankTransfer != nil {
		bt := *o.BankTransfer
		o.BankTransfer = &bt
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	if o.UserID != nil {
		u := *o.UserID
		o.UserID = &u
	}
	return o
}

func (s *Orders) Insert(_ context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byNumber[o.Number]; ok {
		return store.ErrDuplicate
	}
	s.byID[o.ID] = cloneOrder(o)
	s.byNumber[o.Number] = o.ID
	return nil
}

func (s *Orders) Get(_ context.Context, id uuid.UUID) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return order.Order{}, store.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Orders) GetByNumber(_ context.Context, number string) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNumber[number]
	if !ok {
		return order.Order{}, store.ErrNotFound
	}
	return cloneOrder(s.byID[id]), nil
}

func (s *Orders) ListByUser(_ context.Context, userID string, limit, offset int) ([]order.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []order.Order
	for _, o := range s.byID {
		if o.UserID != nil && *o.UserID == userID {
			mine = append(mine, cloneOrder(o))
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
	return page(mine, limit, offset), len(mine), nil
}

func (s *Orders) UpdateIf(_ context.Context, id uuid.UUID, u order.ConditionalUpdate) (order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return order.Order{}, false, store.ErrNotFound
	}
	if !u.Matches(o) {
		return cloneOrder(o), false, nil
	}
	u.Apply(&o, time.Now().UTC())
	s.byID[id] = o
	return cloneOrder(o), true, nil
}

func (s *Orders) AssignGuestOrders(_ context.Context, email, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for id, o := range s.byID {
		if o.UserID != nil && *o.UserID != "" {
			continue
		}
		if !strings.EqualFold(o.Email, email) {
			continue
		}
		uid := userID
		o.UserID = &uid
		o.UpdatedAt = now
		s.byID[id] = o
		n++
	}
	return n, nil
}

// Len reports the number of stored orders.
func (s *Orders) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Reviews implements reviews.Repository.
type Reviews struct {
	mu    sync.Mutex
	items map[uuid.UUID]reviews.Review
}

// NewReviews returns an empty review repository.
func NewReviews() *Reviews {
	return &Reviews{items: map[uuid.UUID]reviews.Review{}}
}

func cloneReview(r reviews.Review) reviews.Review {
	r.HelpfulUsers = append([]string(nil), r.HelpfulUsers...)
	r.Reports = append([]reviews.Report(nil), r.Reports...)
	return r
}

func (s *Reviews) Insert(_ context.Context, r reviews.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.UserID == r.UserID && existing.ProductID == r.ProductID {
			return store.ErrDuplicate
		}
	}
	if _, ok := s.items[r.ID]; ok {
		return store.ErrDuplicate
	}
	s.items[r.ID] = cloneReview(r)
	return nil
}

func (s *Reviews) Get(_ context.Context, id uuid.UUID) (reviews.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return reviews.Review{}, store.ErrNotFound
	}
	return cloneReview(r), nil
}

func (s *Reviews) Update(_ context.Context, r reviews.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[r.ID]; !ok {
		return store.ErrNotFound
	}
	s.items[r.ID] = cloneReview(r)
	return nil
}

func (s *Reviews) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Reviews) ListByProduct(_ context.Context, q reviews.ListQuery) ([]reviews.Review, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reviews.Review
	for _, r := range s.items {
		if r.ProductID != q.ProductID || (q.ApprovedOnly && !r.IsApproved) {
			continue
		}
		out = append(out, cloneReview(r))
	}
	sortReviews(out, q.Sort)
	return page(out, q.Limit, q.Offset), len(out), nil
}

func (s *Reviews) ListByUser(_ context.Context, userID string, limit, offset int) ([]reviews.Review, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reviews.Review
	for _, r := range s.items {
		if r.UserID == userID {
			out = append(out, cloneReview(r))
		}
	}
	sortReviews(out, reviews.SortNewest)
	return page(out, limit, offset), len(out), nil
}

func (s *Reviews) ApprovedStats(_ context.Context, productID string) (reviews.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := 0
	dist := map[int]int{}
	for _, r := range s.items {
		if r.ProductID == productID && r.IsApproved {
			sum += r.Rating
			dist[r.Rating]++
		}
	}
	return reviews.NewStats(sum, dist), nil
}

func (s *Reviews) AllProductIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, r := range s.items {
		if !seen[r.ProductID] {
			seen[r.ProductID] = true
			out = append(out, r.ProductID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Reviews) MarkHelpful(_ context.Context, id uuid.UUID, userID string) (reviews.Review, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return reviews.Review{}, false, store.ErrNotFound
	}
	for _, u := range r.HelpfulUsers {
		if u == userID {
			return cloneReview(r), false, nil
		}
	}
	r.HelpfulUsers = append(r.HelpfulUsers, userID)
	r.HelpfulCount++
	s.items[id] = r
	return cloneReview(r), true, nil
}

func (s *Reviews) AddReport(_ context.Context, id uuid.UUID, rep reviews.Report) (reviews.Review, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return reviews.Review{}, false, store.ErrNotFound
	}
	for _, existing := range r.Reports {
		if existing.UserID == rep.UserID {
			return cloneReview(r), false, nil
		}
	}
	r.Reports = append(r.Reports, rep)
	r.ReportCount++
	s.items[id] = r
	return cloneReview(r), true, nil
}

func sortReviews(items []reviews.Review, by reviews.Sort) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch by {
		case reviews.SortHighest:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case reviews.SortLowest:
			if a.Rating != b.Rating {
				return a.Rating < b.Rating
			}
		case reviews.SortMostHelpful:
			if a.HelpfulCount != b.HelpfulCount {
				return a.HelpfulCount > b.HelpfulCount
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// Events implements events.Store.
type Events struct {
	mu  sync.Mutex
	All []events.Event
}

func (s *Events) InsertEvent(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.All = append(s.All, ev)
	return nil
}

// Topics lists stored event topics in emission order.
func (s *Events) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.All))
	for i, ev := range s.All {
		out[i] = ev.Topic
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
