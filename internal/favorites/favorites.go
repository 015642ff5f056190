package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Farengier/aircon-market/internal/kv"
	log "github.com/sirupsen/logrus"
)

const (
	// Capacity is the most products a user may keep as favorites.
	Capacity = 5
	// KeyFavorites is where the list is stored.
	KeyFavorites = "FAVORITE_PRODUCTS"
)

var (
	ErrLimitReached = fmt.Errorf("no more than %d favorite products", Capacity)
	ErrNotFound     = errors.New("product is not a favorite")
	ErrNoID         = errors.New("product has no id")
)

// Product is a catalogue item as the backend sends it. Fields the client does
// not model are kept in Extra and stored with the product.
type Product struct {
	ID    string
	Name  string
	Brand string
	Price float64
	Extra map[string]json.RawMessage
}

var knownProductFields = map[string]struct{}{
	"_id":   {},
	"name":  {},
	"brand": {},
	"price": {},
}

func (p Product) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		if _, known := knownProductFields[k]; known {
			continue
		}
		out[k] = v
	}
	out["_id"] = p.ID
	out["name"] = p.Name
	if p.Brand != "" {
		out["brand"] = p.Brand
	}
	if p.Price != 0 {
		out["price"] = p.Price
	}
	return json.Marshal(out)
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("product: %w", err)
	}

	parsed := Product{}
	for k, v := range raw {
		var err error
		switch k {
		case "_id":
			err = json.Unmarshal(v, &parsed.ID)
		case "name":
			err = json.Unmarshal(v, &parsed.Name)
		case "brand":
			err = json.Unmarshal(v, &parsed.Brand)
		case "price":
			err = json.Unmarshal(v, &parsed.Price)
		default:
			if parsed.Extra == nil {
				parsed.Extra = make(map[string]json.RawMessage)
			}
			parsed.Extra[k] = append(json.RawMessage(nil), v...)
		}
		if err != nil {
			return fmt.Errorf("product field %s: %w", k, err)
		}
	}
	*p = parsed
	return nil
}

func (p Product) clone() Product {
	if p.Extra == nil {
		return p
	}
	extra := make(map[string]json.RawMessage, len(p.Extra))
	for k, v := range p.Extra {
		extra[k] = append(json.RawMessage(nil), v...)
	}
	p.Extra = extra
	return p
}

// List is the user's favorite products, newest first.
type List struct {
	store kv.Store

	mtx      sync.RWMutex
	products []Product
}

func New(store kv.Store) *List {
	return &List{store: store}
}

// Load replaces the in-memory list with the stored one. A corrupt stored list
// is logged and treated as empty.
func (l *List) Load(ctx context.Context) error {
	raw, ok, err := l.store.Get(ctx, KeyFavorites)
	if err != nil {
		return fmt.Errorf("favorites load failed: %w", err)
	}

	var products []Product
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &products); err != nil {
			log.Errorf("[Favorites] stored list is corrupt, starting empty: %s", err)
			products = nil
		}
	}
	if len(products) > Capacity {
		log.Warnf("[Favorites] stored list has %d products, keeping first %d", len(products), Capacity)
		products = products[:Capacity]
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.products = products
	return nil
}

func (l *List) All() []Product {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	out := make([]Product, 0, len(l.products))
	for _, p := range l.products {
		out = append(out, p.clone())
	}
	return out
}

func (l *List) Contains(id string) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return indexOf(l.products, id) >= 0
}

// Toggle removes p if it is a favorite and adds it in front otherwise. It
// reports whether p is a favorite afterwards.
func (l *List) Toggle(ctx context.Context, p Product) (bool, error) {
	if p.ID == "" {
		return false, ErrNoID
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	var next []Product
	added := false
	if i := indexOf(l.products, p.ID); i >= 0 {
		next = without(l.products, i)
	} else {
		if len(l.products) >= Capacity {
			return false, ErrLimitReached
		}
		next = append([]Product{p.clone()}, l.products...)
		added = true
	}

	if err := l.save(ctx, next); err != nil {
		return !added, err
	}
	l.products = next
	return added, nil
}

func (l *List) Remove(ctx context.Context, id string) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	i := indexOf(l.products, id)
	if i < 0 {
		return ErrNotFound
	}
	next := without(l.products, i)
	if err := l.save(ctx, next); err != nil {
		return err
	}
	l.products = next
	return nil
}

func (l *List) save(ctx context.Context, products []Product) error {
	if products == nil {
		products = []Product{}
	}
	raw, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("favorites encode failed: %w", err)
	}
	if err := l.store.Set(ctx, KeyFavorites, string(raw)); err != nil {
		return fmt.Errorf("favorites save failed: %w", err)
	}
	return nil
}

func indexOf(products []Product, id string) int {
	for i, p := range products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func without(products []Product, i int) []Product {
	out := make([]Product, 0, len(products)-1)
	out = append(out, products[:i]...)
	return append(out, products[i+1:]...)
}
