package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/horarios-data/internal/gtfs-static/schedule"
)

type errorBody struct {
	Error string `json:"error"`
}

func (api *RestAPI) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		api.logger.Error("Failed to encode response", "error", err)
	}
}

func (api *RestAPI) errorResponse(w http.ResponseWriter, status int, msg string) {
	api.sendJSON(w, status, errorBody{Error: msg})
}

// queryErrorResponse maps a query failure to 400 for caller mistakes and
// 500 for everything else.
func (api *RestAPI) queryErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *schedule.InvalidArgumentError
	if errors.As(err, &invalid) {
		api.errorResponse(w, http.StatusBadRequest, invalid.Error())
		return
	}
	api.logger.Error("Query failed", "path", r.URL.Path, "error", err)
	api.errorResponse(w, http.StatusInternalServerError, "internal server error")
}
