package server

import (
	"net/http"
	"time"

	"northstar-hq/polaris/pkg/config"
)

type snapshotView struct {
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
}

func viewSnapshot(s config.Snapshot) snapshotView {
	return snapshotView{Source: s.Source, LoadedAt: s.LoadedAt}
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.opts.Watcher.Reload(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: errorDetail{
			Type:    "invalid_configuration",
			Message: err.Error(),
		}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "reloaded",
		"keys":      len(cfg.Keys),
		"policies":  len(cfg.Policies),
		"providers": len(cfg.Providers),
	})
}

func (s *Server) handleConfigRollback(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.History.Rollback()
	if err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: errorDetail{
			Type:    "no_snapshot",
			Message: err.Error(),
		}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "rolled_back",
		"snapshot": viewSnapshot(snap),
	})
}

func (s *Server) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	snaps := s.opts.History.Snapshots()
	views := make([]snapshotView, len(snaps))
	for i, snap := range snaps {
		views[i] = viewSnapshot(snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": views})
}
