package cart

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/cart/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/product"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the persistence the service needs. *Repository implements it.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int, size string) error
	SetQuantity(ctx context.Context, cartID, itemID string, quantity int) error
	RemoveItem(ctx context.Context, cartID, itemID string) error
	Clear(ctx context.Context, cartID string) error
}

const cacheStripes = 64

// cacheStripe orders cache writes against invalidations for the users hashed
// onto it. gen changes on every invalidation.
type cacheStripe struct {
	mu  sync.Mutex
	gen uint64
}

type Service struct {
	repo    Store
	catalog product.Catalog
	cache   cache.CartCache
	log     *zap.Logger
	sfg     singleflight.Group // collapses concurrent misses for one user

	seed    maphash.Seed
	stripes [cacheStripes]cacheStripe
}

func NewService(repo Store, catalog product.Catalog, c cache.CartCache, log *zap.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		cache:   c,
		log:     log,
		seed:    maphash.MakeSeed(),
	}
}

// GetCart returns the user's cart, creating it on first access.
func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cart cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		gen := s.generation(userID)
		cart, err = s.repo.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		s.storeIfCurrent(ctx, userID, gen, cart)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// AddItem merges quantity into the (product, size) line. Unknown and
// inactive products are rejected.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int, size string) (*domain.Cart, error) {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductInactive, p.Name)
	}

	cart, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AddItem(ctx, cart.ID, productID, quantity, size); err != nil {
		s.log.Error("add cart item failed", zap.String("user_id", userID), zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}

	return s.refresh(ctx, userID)
}

// SetQuantity overwrites a line's quantity; zero or less removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	if quantity > domain.MaxItemQuantity {
		return nil, domain.ErrInvalidQuantity
	}

	cart, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetQuantity(ctx, cart.ID, itemID, quantity); err != nil {
		return nil, err
	}

	return s.refresh(ctx, userID)
}

func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	cart, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RemoveItem(ctx, cart.ID, itemID); err != nil {
		return nil, err
	}

	return s.refresh(ctx, userID)
}

func (s *Service) Clear(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Clear(ctx, cart.ID); err != nil {
		return nil, err
	}

	return s.refresh(ctx, userID)
}

// Invalidate drops the cached view. Checkout calls it after commit. A read
// that started before the invalidation will not write its view back.
func (s *Service) Invalidate(userID string) {
	st := s.stripe(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.gen++

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) stripe(userID string) *cacheStripe {
	return &s.stripes[maphash.String(s.seed, userID)%cacheStripes]
}

func (s *Service) generation(userID string) uint64 {
	st := s.stripe(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// storeIfCurrent caches cart unless an invalidation for the stripe happened
// after gen was read.
func (s *Service) storeIfCurrent(ctx context.Context, userID string, gen uint64, cart *domain.Cart) {
	st := s.stripe(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		return
	}

	setCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.cache.Set(setCtx, userID, cart); err != nil {
		s.log.Warn("cart cache set failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *Service) refresh(ctx context.Context, userID string) (*domain.Cart, error) {
	s.Invalidate(userID)
	return s.repo.GetOrCreate(ctx, userID)
}
