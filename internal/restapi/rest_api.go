// Package restapi serves the public read API over the schedule engine.
package restapi

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/horarios-data/internal/common/logger"
	"github.com/horarios-data/internal/gtfs-static/schedule"
	"github.com/horarios-data/internal/gtfs-static/store"
	"github.com/horarios-data/pkg/gtfs-static/models"
)

// Schedule is the query surface the handlers need.
type Schedule interface {
	NextDepartures(ctx context.Context, routeID, stopID string, date time.Time, limit int) ([]schedule.Departure, error)
	Routes(ctx context.Context, regionName string) ([]models.Route, error)
	StopsForRoute(ctx context.Context, routeID string) ([]store.RouteStop, error)
}

type RestAPI struct {
	schedule Schedule
	logger   logger.Logger
}

func NewRestAPI(s Schedule, logger logger.Logger) *RestAPI {
	return &RestAPI{schedule: s, logger: logger}
}

// Handler returns the router with request logging applied.
func (api *RestAPI) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/api/ping", api.pingHandler)
	router.GET("/api/rutas", api.routesHandler)
	router.GET("/api/paradas", api.stopsHandler)
	router.GET("/api/horarios", api.departuresHandler)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.errorResponse(w, http.StatusNotFound, "not found")
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		api.logger.Error("Panic while serving request", "path", r.URL.Path, "panic", v)
		api.errorResponse(w, http.StatusInternalServerError, "internal server error")
	}

	return NewRequestLoggingMiddleware(api.logger)(router)
}
