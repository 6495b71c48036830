package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/product"
)

const (
	maxImageBytes      = 10 << 20
	maxProductFormSize = maxImageBytes + 1<<20
	maxProductJSONSize = 1 << 20
	imageField         = "image"
)

type CreateProductForm struct {
	Name        string   `form:"name" validate:"required,max=200"`
	Price       *float64 `form:"price" validate:"required,gte=0"`
	Description string   `form:"description" validate:"max=5000"`
}

// UpdateProductForm is read from a multipart form or, without an image, from
// a JSON body.
type UpdateProductForm struct {
	Name        *string  `json:"name" form:"name" validate:"omitempty,max=200"`
	Price       *float64 `json:"price" form:"price" validate:"omitempty,gte=0"`
	Description *string  `json:"description" form:"description" validate:"omitempty,max=5000"`
}

type ProductHandler struct {
	service  product.Service
	validate *validator.Validate
}

func NewProductHandler(service product.Service) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *ProductHandler) RegisterRoutes(router chi.Router) {
	router.Post("/products", h.handleCreateProduct)
	router.Get("/products", h.handleListProducts)
	router.Put("/products/{id}", h.handleUpdateProduct)
	router.Delete("/products/{id}", h.handleDeleteProduct)
}

func (h *ProductHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer cleanupMultipart(r)

	price, ok := formFloat(w, r, "price")
	if !ok {
		return
	}
	form := CreateProductForm{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Price:       price,
		Description: r.FormValue("description"),
	}
	if err := h.validate.Struct(form); err != nil {
		respondWithValidation(w, err)
		return
	}

	image, ok := formImage(w, r)
	if !ok {
		return
	}
	if image != nil {
		defer closeQuietly(image.Content)
	}

	created, err := h.service.CreateProduct(r.Context(), product.Input{
		Name:        form.Name,
		Price:       *form.Price,
		Description: form.Description,
	}, image)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create product via service")
		respondWithServiceError(w, err, "Error creating product")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *ProductHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list products via service")
		respondWithServiceError(w, err, "Error fetching products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}

func (h *ProductHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")

	if isJSON(r) {
		h.updateFromJSON(w, r, idParam)
		return
	}

	if !h.parseForm(w, r) {
		return
	}
	defer cleanupMultipart(r)

	price, ok := formFloat(w, r, "price")
	if !ok {
		return
	}
	form := UpdateProductForm{
		Name:        formString(r, "name"),
		Price:       price,
		Description: formString(r, "description"),
	}
	if err := h.validate.Struct(form); err != nil {
		respondWithValidation(w, err)
		return
	}

	image, ok := formImage(w, r)
	if !ok {
		return
	}
	if image != nil {
		defer closeQuietly(image.Content)
	}

	updated, err := h.service.UpdateProduct(r.Context(), idParam, product.UpdateInput{
		Name:        form.Name,
		Price:       form.Price,
		Description: form.Description,
	}, image)
	if err != nil {
		log.Warn().Err(err).Str("product_id", idParam).Msg("Failed to update product via service")
		respondWithServiceError(w, err, "Error updating product")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) updateFromJSON(w http.ResponseWriter, r *http.Request, idParam string) {
	var form UpdateProductForm
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProductJSONSize)).Decode(&form); err != nil {
		log.Warn().Err(err).Str("product_id", idParam).Msg("Failed to decode product update body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}
	if err := h.validate.Struct(form); err != nil {
		respondWithValidation(w, err)
		return
	}

	updated, err := h.service.UpdateProduct(r.Context(), idParam, product.UpdateInput{
		Name:        form.Name,
		Price:       form.Price,
		Description: form.Description,
	}, nil)
	if err != nil {
		log.Warn().Err(err).Str("product_id", idParam).Msg("Failed to update product via service")
		respondWithServiceError(w, err, "Error updating product")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *ProductHandler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")

	if err := h.service.DeleteProduct(r.Context(), idParam); err != nil {
		log.Error().Err(err).Str("product_id", idParam).Msg("Failed to delete product via service")
		respondWithServiceError(w, err, "Error deleting product")
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Product deleted successfully"})
}

func (h *ProductHandler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxProductFormSize)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return false
		}
		log.Warn().Err(err).Msg("Failed to parse multipart form")
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return false
	}
	return true
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func cleanupMultipart(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// formString returns nil when the field is absent from the form.
func formString(r *http.Request, field string) *string {
	values, ok := r.MultipartForm.Value[field]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

// formFloat parses an optional numeric field, answering 400 on garbage.
func formFloat(w http.ResponseWriter, r *http.Request, field string) (*float64, bool) {
	raw := formString(r, field)
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid "+field)
		return nil, false
	}
	return &v, true
}

// formImage returns the uploaded image, or nil when none was sent.
func formImage(w http.ResponseWriter, r *http.Request) (*product.Image, bool) {
	file, header, err := r.FormFile(imageField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, true
		}
		log.Warn().Err(err).Msg("Failed to read uploaded image")
		respondWithError(w, http.StatusBadRequest, "Invalid image upload")
		return nil, false
	}
	return &product.Image{Filename: header.Filename, Content: file}, true
}

func closeQuietly(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
