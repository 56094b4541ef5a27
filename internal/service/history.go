package service

import (
	"context"

	"github.com/calebwray/swapflow/internal/domain"
)

// HistoryService answers order history queries.
type HistoryService struct {
	store domain.HistoryStore
}

// NewHistoryService creates a HistoryService over store.
func NewHistoryService(store domain.HistoryStore) *HistoryService {
	return &HistoryService{store: store}
}

// List returns one page of orders, most recently updated first.
func (s *HistoryService) List(ctx context.Context, opts domain.HistoryListOpts) (domain.HistoryPage, error) {
	return s.store.List(ctx, opts)
}

// Get returns a single order's record, or domain.ErrNotFound.
func (s *HistoryService) Get(ctx context.Context, orderID string) (domain.HistoryRecord, error) {
	return s.store.GetByID(ctx, orderID)
}
