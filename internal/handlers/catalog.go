package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/repository"
)

type CatalogHandler struct {
	catalog repository.CatalogRepository
	logger  zerolog.Logger
}

func NewCatalogHandler(catalog repository.CatalogRepository, logger zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

func (h *CatalogHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.catalog.ListEntities()
	if err != nil {
		http.Error(w, "Failed to list entities: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entities)
}

func (h *CatalogHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := h.catalog.ListVideos()
	if err != nil {
		http.Error(w, "Failed to list videos: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(videos)
}

func (h *CatalogHandler) GetVideo(w http.ResponseWriter, r *http.Request) {
	video, err := h.catalog.GetVideo(mux.Vars(r)["id"])
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "No video of such ID was found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get video: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(video)
}

func (h *CatalogHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListModels()
	if err != nil {
		http.Error(w, "Failed to list models: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *CatalogHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "ID is not numeric", http.StatusBadRequest)
		return
	}
	model, err := h.catalog.GetModel(id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Model by that ID not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get model: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model)
}

// CreateModel registers a model artifact that already exists on disk.
func (h *CatalogHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Path string  `json:"model_path"`
		Name *string `json:"model_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Path == "" {
		http.Error(w, "model_path is required", http.StatusBadRequest)
		return
	}

	model, err := h.catalog.UpsertModel(payload.Path, payload.Name)
	if err != nil {
		http.Error(w, "Failed to create model: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info().Str("path", model.Path).Int64("id", model.ID).Msg("Model registered")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(model)
}
