package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"server/internal/infra"
	"server/internal/videogen"
)

// App bundles the dependencies shared by all handlers.
type App struct {
	Logger         infra.Logger
	Service        *videogen.Service
	StorageBaseURL string
}

func NewApp(logger infra.Logger, service *videogen.Service, storageBaseURL string) *App {
	return &App{Logger: logger, Service: service, StorageBaseURL: storageBaseURL}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": errCode, "message": message})
}

// artifactURL maps a storage key onto its public URL.
func (a *App) artifactURL(key string) string {
	return strings.TrimRight(a.StorageBaseURL, "/") + "/" + key
}
