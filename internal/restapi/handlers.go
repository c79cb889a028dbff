package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/horarios-data/internal/gtfs-static/schedule"
)

type routeResponse struct {
	RouteID        string `json:"route_id"`
	RouteShortName string `json:"route_short_name"`
	RouteLongName  string `json:"route_long_name"`
	RouteType      int    `json:"route_type"`
}

type stopResponse struct {
	StopID   string  `json:"stop_id"`
	StopName string  `json:"stop_name"`
	StopLat  float64 `json:"stop_lat"`
	StopLon  float64 `json:"stop_lon"`
	Sequence int     `json:"sequence"`
}

func (api *RestAPI) pingHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.sendJSON(w, http.StatusOK, map[string]string{"message": "API operativa"})
}

// routesHandler lists routes, filtered by ?region= when given.
func (api *RestAPI) routesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	routes, err := api.schedule.Routes(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		api.queryErrorResponse(w, r, err)
		return
	}

	out := make([]routeResponse, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeResponse{
			RouteID:        rt.ID,
			RouteShortName: rt.ShortName,
			RouteLongName:  rt.LongName,
			RouteType:      rt.Type,
		})
	}
	api.sendJSON(w, http.StatusOK, out)
}

// stopsHandler lists the stops of ?ruta= in sequence order.
func (api *RestAPI) stopsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	routeID := r.URL.Query().Get("ruta")
	if routeID == "" {
		api.errorResponse(w, http.StatusBadRequest, "missing parameter: ruta")
		return
	}

	stops, err := api.schedule.StopsForRoute(r.Context(), routeID)
	if err != nil {
		api.queryErrorResponse(w, r, err)
		return
	}

	out := make([]stopResponse, 0, len(stops))
	for _, s := range stops {
		out = append(out, stopResponse{
			StopID:   s.ID,
			StopName: s.Name,
			StopLat:  s.Lat,
			StopLon:  s.Lon,
			Sequence: s.Sequence,
		})
	}
	api.sendJSON(w, http.StatusOK, out)
}

// departuresHandler answers ?ruta=&parada=&fecha=YYYY-MM-DD with the next
// departures of the route at the stop on that date.
func (api *RestAPI) departuresHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	routeID, stopID, fecha := q.Get("ruta"), q.Get("parada"), q.Get("fecha")
	if routeID == "" || stopID == "" || fecha == "" {
		api.errorResponse(w, http.StatusBadRequest, "missing parameter: ruta, parada and fecha are required")
		return
	}

	date, err := schedule.ParseServiceDate(fecha)
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, "fecha inválida")
		return
	}

	departures, err := api.schedule.NextDepartures(r.Context(), routeID, stopID, date, 0)
	if err != nil {
		api.queryErrorResponse(w, r, err)
		return
	}
	api.sendJSON(w, http.StatusOK, departures)
}
