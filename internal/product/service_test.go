package product_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/product"
)

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) Create(ctx context.Context, p *product.Product) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.ID = uuid.Must(uuid.NewV4())
	}
	return args.Error(0)
}

func (m *MockProductRepository) List(ctx context.Context) ([]product.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]product.Product), args.Error(1)
}

func (m *MockProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Product), args.Error(1)
}

func (m *MockProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]product.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]product.Product), args.Error(1)
}

func (m *MockProductRepository) Update(ctx context.Context, p *product.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockProductRepository) Delete(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// fakeImageStore records saved and removed names instead of touching disk.
type fakeImageStore struct {
	next    string
	saveErr error
	saved   []string
	removed []string
}

func (f *fakeImageStore) Save(_ string, content io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	_, _ = io.Copy(io.Discard, content)
	f.saved = append(f.saved, f.next)
	return f.next, nil
}

func (f *fakeImageStore) Remove(filename string) error {
	f.removed = append(f.removed, filename)
	return nil
}

func newImage() *product.Image {
	return &product.Image{Filename: "lamp.png", Content: strings.NewReader("png bytes")}
}

func TestProductService_CreateProduct_Success(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{next: "1700-abc.png"}
	svc := product.NewService(mockRepo, images)

	mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(p *product.Product) bool {
		return p.Name == "Lamp" && p.Price == 19.99 && p.Image == "1700-abc.png"
	})).Return(nil).Once()

	p, err := svc.CreateProduct(context.Background(), product.Input{Name: "  Lamp ", Price: 19.99}, newImage())
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, "1700-abc.png", p.Image)
	assert.Empty(t, images.removed)
	mockRepo.AssertExpectations(t)
}

func TestProductService_CreateProduct_ImageRequired(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{next: "x.png"}
	svc := product.NewService(mockRepo, images)

	p, err := svc.CreateProduct(context.Background(), product.Input{Name: "Lamp", Price: 1}, nil)
	require.ErrorIs(t, err, product.ErrImageRequired)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Image is required", err.Error())
	assert.Nil(t, p)
	assert.Empty(t, images.saved)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProductService_CreateProduct_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		input   product.Input
		wantErr error
	}{
		{name: "blank_name", input: product.Input{Name: "   ", Price: 1}, wantErr: product.ErrNameRequired},
		{name: "negative_price", input: product.Input{Name: "Lamp", Price: -1}, wantErr: product.ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockProductRepository)
			images := &fakeImageStore{next: "x.png"}
			svc := product.NewService(mockRepo, images)

			_, err := svc.CreateProduct(context.Background(), tt.input, newImage())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, images.saved)
			mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestProductService_CreateProduct_RepositoryErrorRemovesImage(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{next: "1700-abc.png"}
	svc := product.NewService(mockRepo, images)

	mockRepo.On("Create", mock.Anything, mock.AnythingOfType("*product.Product")).
		Return(errors.New("db down")).
		Once()

	p, err := svc.CreateProduct(context.Background(), product.Input{Name: "Lamp", Price: 1}, newImage())
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Nil(t, p)
	assert.Equal(t, []string{"1700-abc.png"}, images.removed)
	mockRepo.AssertExpectations(t)
}

func TestProductService_CreateProduct_RejectedImage(t *testing.T) {
	mockRepo := new(MockProductRepository)
	notImage := apperr.Validation("Uploaded file must be an image")
	svc := product.NewService(mockRepo, &fakeImageStore{saveErr: notImage})

	_, err := svc.CreateProduct(context.Background(), product.Input{Name: "Lamp", Price: 1}, newImage())
	require.ErrorIs(t, err, notImage)
	require.ErrorIs(t, err, apperr.ErrValidation)
	mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProductService_ListProducts(t *testing.T) {
	mockRepo := new(MockProductRepository)
	svc := product.NewService(mockRepo, &fakeImageStore{})

	expected := []product.Product{{ID: uuid.Must(uuid.NewV4()), Name: "Lamp"}}
	mockRepo.On("List", mock.Anything).Return(expected, nil).Once()

	products, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, products)

	mockRepo.On("List", mock.Anything).Return(nil, errors.New("db down")).Once()
	_, err = svc.ListProducts(context.Background())
	require.ErrorIs(t, err, apperr.ErrPersistence)
	mockRepo.AssertExpectations(t)
}

func TestProductService_UpdateProduct_PartialWithNewImage(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{next: "new.png"}
	svc := product.NewService(mockRepo, images)

	id := uuid.Must(uuid.NewV4())
	current := &product.Product{ID: id, Name: "Lamp", Price: 10, Description: "old", Image: "old.png"}
	mockRepo.On("GetByID", mock.Anything, id).Return(current, nil).Once()
	mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(p *product.Product) bool {
		return p.Name == "Lamp" && p.Price == 12.5 && p.Description == "old" && p.Image == "new.png"
	})).Return(nil).Once()

	price := 12.5
	updated, err := svc.UpdateProduct(context.Background(), id.String(), product.UpdateInput{Price: &price}, newImage())
	require.NoError(t, err)
	assert.Equal(t, 12.5, updated.Price)
	assert.Equal(t, "new.png", updated.Image)
	assert.Equal(t, []string{"old.png"}, images.removed, "replaced image should be removed")
	mockRepo.AssertExpectations(t)
}

func TestProductService_UpdateProduct_KeepsImageWhenNoneUploaded(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{}
	svc := product.NewService(mockRepo, images)

	id := uuid.Must(uuid.NewV4())
	mockRepo.On("GetByID", mock.Anything, id).
		Return(&product.Product{ID: id, Name: "Lamp", Price: 10, Image: "old.png"}, nil).Once()
	mockRepo.On("Update", mock.Anything, mock.AnythingOfType("*product.Product")).Return(nil).Once()

	name := "Desk Lamp"
	updated, err := svc.UpdateProduct(context.Background(), id.String(), product.UpdateInput{Name: &name}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", updated.Name)
	assert.Equal(t, "old.png", updated.Image)
	assert.Empty(t, images.saved)
	assert.Empty(t, images.removed)
	mockRepo.AssertExpectations(t)
}

func TestProductService_UpdateProduct_NotFound(t *testing.T) {
	mockRepo := new(MockProductRepository)
	svc := product.NewService(mockRepo, &fakeImageStore{})

	_, err := svc.UpdateProduct(context.Background(), "not-a-uuid", product.UpdateInput{}, nil)
	require.ErrorIs(t, err, product.ErrProductNotFound)

	id := uuid.Must(uuid.NewV4())
	mockRepo.On("GetByID", mock.Anything, id).Return(nil, product.ErrProductNotFound).Once()
	_, err = svc.UpdateProduct(context.Background(), id.String(), product.UpdateInput{}, nil)
	require.ErrorIs(t, err, product.ErrProductNotFound)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	mockRepo.AssertExpectations(t)
}

func TestProductService_UpdateProduct_FailedUpdateRemovesNewImage(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{next: "new.png"}
	svc := product.NewService(mockRepo, images)

	id := uuid.Must(uuid.NewV4())
	mockRepo.On("GetByID", mock.Anything, id).
		Return(&product.Product{ID: id, Name: "Lamp", Image: "old.png"}, nil).Once()
	mockRepo.On("Update", mock.Anything, mock.AnythingOfType("*product.Product")).
		Return(errors.New("db down")).Once()

	_, err := svc.UpdateProduct(context.Background(), id.String(), product.UpdateInput{}, newImage())
	require.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, []string{"new.png"}, images.removed, "old image must survive a failed update")
	mockRepo.AssertExpectations(t)
}

func TestProductService_DeleteProduct(t *testing.T) {
	mockRepo := new(MockProductRepository)
	images := &fakeImageStore{}
	svc := product.NewService(mockRepo, images)

	id := uuid.Must(uuid.NewV4())
	mockRepo.On("Delete", mock.Anything, id).Return("1.png", nil).Once()
	require.NoError(t, svc.DeleteProduct(context.Background(), id.String()))
	assert.Equal(t, []string{"1.png"}, images.removed)

	mockRepo.On("Delete", mock.Anything, id).Return("", product.ErrProductNotFound).Once()
	require.NoError(t, svc.DeleteProduct(context.Background(), id.String()), "deleting an absent product succeeds")

	require.NoError(t, svc.DeleteProduct(context.Background(), "garbage"))

	mockRepo.On("Delete", mock.Anything, id).Return("", errors.New("db down")).Once()
	require.ErrorIs(t, svc.DeleteProduct(context.Background(), id.String()), apperr.ErrPersistence)
	mockRepo.AssertExpectations(t)
}
