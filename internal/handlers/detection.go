package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/repository"
)

type DetectionHandler struct {
	detections repository.DetectionRepository
	// defaultConfidence applies when the client does not pass ?conf=.
	defaultConfidence float64
	logger            zerolog.Logger
}

func NewDetectionHandler(detections repository.DetectionRepository, defaultConfidence float64, logger zerolog.Logger) *DetectionHandler {
	return &DetectionHandler{
		detections:        detections,
		defaultConfidence: defaultConfidence,
		logger:            logger,
	}
}

// GetDetections serves /api/videos/{videoId}/detections/{modelName} with
// optional ?entities=&ss=&to=&conf= filtering.
func (h *DetectionHandler) GetDetections(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, err := url.PathUnescape(vars["modelName"])
	if err != nil {
		http.Error(w, "Invalid model name", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	filter := repository.DetectionFilter{
		EntityNames: query["entities"],
		Confidence:  h.defaultConfidence,
	}

	if ss := query.Get("ss"); ss != "" {
		filter.TimeStart, err = strconv.ParseFloat(ss, 64)
		if err != nil {
			http.Error(w, "?ss= value could not be parsed", http.StatusBadRequest)
			return
		}
	}
	if to := query.Get("to"); to != "" {
		filter.TimeEnd, err = strconv.ParseFloat(to, 64)
		if err != nil {
			http.Error(w, "?to= value could not be parsed", http.StatusBadRequest)
			return
		}
	}
	if filter.TimeEnd > 0 && filter.TimeStart > filter.TimeEnd {
		http.Error(w, "Invalid time range (start > end)", http.StatusBadRequest)
		return
	}
	if conf := query.Get("conf"); conf != "" {
		filter.Confidence, err = strconv.ParseFloat(conf, 64)
		if err != nil || math.IsNaN(filter.Confidence) {
			http.Error(w, "Confidence value could not be parsed", http.StatusBadRequest)
			return
		}
	}

	detections, err := h.detections.Query(vars["videoId"], modelName, filter)
	if err != nil {
		http.Error(w, "Failed to query detections: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detections)
}
