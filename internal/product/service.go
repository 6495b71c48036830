package product

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

var (
	ErrImageRequired = apperr.Validation("Image is required")
	ErrNameRequired  = apperr.Validation("Name is required")
	ErrInvalidPrice  = apperr.Validation("Price cannot be negative")
)

// ImageStore persists uploaded images and returns the stored filename.
type ImageStore interface {
	Save(originalName string, content io.Reader) (string, error)
	Remove(filename string) error
}

type Service interface {
	CreateProduct(ctx context.Context, input Input, image *Image) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	UpdateProduct(ctx context.Context, id string, input UpdateInput, image *Image) (*Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

type service struct {
	repo   Repository
	images ImageStore
}

func NewService(repo Repository, images ImageStore) Service {
	return &service{repo: repo, images: images}
}

func (s *service) CreateProduct(ctx context.Context, input Input, image *Image) (*Product, error) {
	if image == nil || image.Content == nil {
		return nil, ErrImageRequired
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, ErrNameRequired
	}
	if input.Price < 0 {
		return nil, ErrInvalidPrice
	}

	filename, err := s.images.Save(image.Filename, image.Content)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to store product image")
		return nil, fmt.Errorf("service: failed to store product image: %w", err)
	}

	p := &Product{
		Name:        input.Name,
		Price:       input.Price,
		Description: input.Description,
		Image:       filename,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.removeImage(filename)
		log.Error().Err(err).Msg("service: failed to create product in repository")
		return nil, fmt.Errorf("service: failed to create product: %w: %w", apperr.ErrPersistence, err)
	}

	log.Info().Stringer("product_id", p.ID).Str("image", p.Image).Msg("service: product created")
	return p, nil
}

func (s *service) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list products in repository")
		return nil, fmt.Errorf("service: failed to list products: %w: %w", apperr.ErrPersistence, err)
	}
	return products, nil
}

func (s *service) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	products, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch products by ids: %w: %w", apperr.ErrPersistence, err)
	}
	return products, nil
}

func (s *service) UpdateProduct(ctx context.Context, id string, input UpdateInput, image *Image) (*Product, error) {
	productID, err := uuid.FromString(strings.TrimSpace(id))
	if err != nil {
		log.Warn().Err(err).Str("product_id", id).Msg("service: malformed product id")
		return nil, ErrProductNotFound
	}

	current, err := s.repo.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to fetch product for update")
		return nil, fmt.Errorf("service: failed to fetch product: %w: %w", apperr.ErrPersistence, err)
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		current.Name = name
	}
	if input.Price != nil {
		if *input.Price < 0 {
			return nil, ErrInvalidPrice
		}
		current.Price = *input.Price
	}
	if input.Description != nil {
		current.Description = *input.Description
	}

	oldImage := current.Image
	if image != nil && image.Content != nil {
		filename, err := s.images.Save(image.Filename, image.Content)
		if err != nil {
			if errors.Is(err, apperr.ErrValidation) {
				return nil, err
			}
			log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to store product image")
			return nil, fmt.Errorf("service: failed to store product image: %w", err)
		}
		current.Image = filename
	}

	if err := s.repo.Update(ctx, current); err != nil {
		if current.Image != oldImage {
			s.removeImage(current.Image)
		}
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to update product in repository")
		return nil, fmt.Errorf("service: failed to update product: %w: %w", apperr.ErrPersistence, err)
	}

	if current.Image != oldImage {
		s.removeImage(oldImage)
	}

	log.Info().Stringer("product_id", productID).Msg("service: product updated")
	return current, nil
}

// DeleteProduct is idempotent: deleting an unknown product succeeds.
func (s *service) DeleteProduct(ctx context.Context, id string) error {
	productID, err := uuid.FromString(strings.TrimSpace(id))
	if err != nil {
		log.Warn().Err(err).Str("product_id", id).Msg("service: malformed product id, nothing to delete")
		return nil
	}

	image, err := s.repo.Delete(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			log.Debug().Stringer("product_id", productID).Msg("service: product already absent")
			return nil
		}
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to delete product in repository")
		return fmt.Errorf("service: failed to delete product: %w: %w", apperr.ErrPersistence, err)
	}

	s.removeImage(image)
	log.Info().Stringer("product_id", productID).Msg("service: product deleted")
	return nil
}

func (s *service) removeImage(filename string) {
	if filename == "" {
		return
	}
	if err := s.images.Remove(filename); err != nil {
		log.Warn().Err(err).Str("image", filename).Msg("service: failed to remove product image")
	}
}
