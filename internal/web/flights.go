package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"helipad-ng/internal/flightlog"
)

type FlightsResponse struct {
	Active   *flightlog.Session  `json:"active"`
	Sessions []flightlog.Session `json:"sessions"`
}

func flightErrorStatus(err error) int {
	switch {
	case errors.Is(err, flightlog.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, flightlog.ErrSessionActive), errors.Is(err, flightlog.ErrNoActiveSession):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", r.PathValue("id"))
	}
	return id, nil
}

func registerFlights(mux *http.ServeMux, store *flightlog.Store, exportDir string) {
	mux.HandleFunc("GET /api/flights", func(w http.ResponseWriter, r *http.Request) {
		resp := FlightsResponse{Sessions: store.Sessions()}
		if s, ok := store.ActiveSession(); ok {
			resp.Active = &s
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("POST /api/flights/start", func(w http.ResponseWriter, r *http.Request) {
		s, err := store.StartSession()
		if err != nil {
			http.Error(w, err.Error(), flightErrorStatus(err))
			return
		}
		writeJSON(w, s)
	})

	mux.HandleFunc("POST /api/flights/stop", func(w http.ResponseWriter, r *http.Request) {
		active, ok := store.ActiveSession()
		if !ok {
			http.Error(w, flightlog.ErrNoActiveSession.Error(), http.StatusConflict)
			return
		}
		s, err := store.StopSession(active.ID)
		if err != nil {
			http.Error(w, err.Error(), flightErrorStatus(err))
			return
		}
		writeJSON(w, s)
	})

	mux.HandleFunc("GET /api/flights/{id}/csv", func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := store.Points(id); err != nil {
			http.Error(w, err.Error(), flightErrorStatus(err))
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", flightlog.FileName(id)))
		if err := store.WriteCSV(id, w); err != nil {
			// Headers are gone; the truncated body is all we can signal.
			return
		}
	})

	mux.HandleFunc("POST /api/flights/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		path, err := store.ExportFile(id, exportDir)
		if err != nil {
			http.Error(w, err.Error(), flightErrorStatus(err))
			return
		}
		writeJSON(w, map[string]string{"path": path})
	})
}
