package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mvirta/mobwatch/internal/handlers"
)

// NewRouter sets up the API routes. Browse routes are public; the job and
// model administration routes sit behind the admin guard.
func NewRouter(
	jobs *handlers.JobHandler,
	catalog *handlers.CatalogHandler,
	detections *handlers.DetectionHandler,
	requireAdmin func(http.Handler) http.Handler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Public browse endpoints
	router.HandleFunc("/api/entities", catalog.ListEntities).Methods(http.MethodGet)
	router.HandleFunc("/api/videos", catalog.ListVideos).Methods(http.MethodGet)
	router.HandleFunc("/api/videos/{id}", catalog.GetVideo).Methods(http.MethodGet)
	router.HandleFunc("/api/videos/{videoId}/detections/{modelName}", detections.GetDetections).Methods(http.MethodGet)

	// Admin endpoints
	admin := router.PathPrefix("/api").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/jobs", jobs.ListJobs).Methods(http.MethodGet)
	admin.HandleFunc("/jobs", jobs.CreateJob).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id}", jobs.GetJob).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{id}", jobs.DeleteJob).Methods(http.MethodDelete)
	admin.HandleFunc("/jobs/{id}/logs", jobs.GetJobLogs).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{id}/result", jobs.GetJobResult).Methods(http.MethodGet)
	admin.HandleFunc("/models", catalog.ListModels).Methods(http.MethodGet)
	admin.HandleFunc("/models", catalog.CreateModel).Methods(http.MethodPost)
	admin.HandleFunc("/models/{id}", catalog.GetModel).Methods(http.MethodGet)

	return router
}
