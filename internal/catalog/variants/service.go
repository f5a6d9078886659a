package variants

import (
	"context"
	"errors"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Variant, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit < 1 {
		filters.Limit = 20
	}
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Variant, error) {
	if id <= 0 {
		return Variant{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Exists reports whether the variant is known, returning ErrNotFound
// when it is not. The stock path depends on this and nothing else here.
func (s *Service) Exists(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	ok, err := s.repo.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Service) Create(ctx context.Context, variant Variant) (Variant, error) {
	if err := s.validate(variant); err != nil {
		return Variant{}, err
	}
	return s.repo.Create(ctx, variant)
}

func (s *Service) Update(ctx context.Context, id int64, variant Variant) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	if err := s.validate(variant); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, variant)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) validate(v Variant) error {
	if strings.TrimSpace(v.SKU) == "" {
		return errors.New("variant sku is required")
	}
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("variant name is required")
	}
	if v.UnitID <= 0 {
		return errors.New("variant unit is required")
	}
	return nil
}
