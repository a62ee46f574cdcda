package service

import (
	"context"
	"strings"

	"fifoshop/backend/internal/domain"
)

func (s *Service) ListProducts(ctx context.Context, shopID int64, filter domain.ProductFilter) ([]domain.Product, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, shopID, filter)
}

func (s *Service) GetProduct(ctx context.Context, shopID int64, productID int64) (domain.Product, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, shopID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, shopID int64, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.authorize(ctx, shopID, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, domain.ErrInvalidInput
	}
	if req.RecommendedPrice.IsNegative() {
		return domain.Product{}, domain.ErrInvalidQuantity
	}
	if err := checkMoneyScale("recommended price", req.RecommendedPrice); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ShopID:           shopID,
		Name:             name,
		RecommendedPrice: req.RecommendedPrice,
		Active:           true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.event(actor, shopID).Int64("product_id", created.ID).Str("name", created.Name).Msg("product created")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, shopID int64, productID int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.authorize(ctx, shopID, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, shopID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, domain.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.RecommendedPrice != nil {
		if req.RecommendedPrice.IsNegative() {
			return domain.Product{}, domain.ErrInvalidQuantity
		}
		if err := checkMoneyScale("recommended price", *req.RecommendedPrice); err != nil {
			return domain.Product{}, err
		}
		updated.RecommendedPrice = *req.RecommendedPrice
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.event(actor, shopID).Int64("product_id", saved.ID).Msg("product updated")
	return *saved, nil
}

// ArchiveProduct withdraws a product from sale. Its batches and sales are
// left untouched.
func (s *Service) ArchiveProduct(ctx context.Context, shopID int64, productID int64) (domain.Product, error) {
	return s.setProductActive(ctx, shopID, productID, false)
}

func (s *Service) ReactivateProduct(ctx context.Context, shopID int64, productID int64) (domain.Product, error) {
	return s.setProductActive(ctx, shopID, productID, true)
}

func (s *Service) setProductActive(ctx context.Context, shopID int64, productID int64, active bool) (domain.Product, error) {
	actor, err := s.authorize(ctx, shopID, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, shopID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if existing.Active == active {
		return *existing, nil
	}

	existing.Active = active
	saved, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return domain.Product{}, err
	}

	s.event(actor, shopID).Int64("product_id", saved.ID).Bool("active", active).Msg("product status changed")
	return *saved, nil
}
