package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/pkg/supervisor"
)

// JobsHandler lists the live analysis workers, oldest first.
func JobsHandler(reg *supervisor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := reg.Snapshot()
		apperrors.WriteJSON(w, http.StatusOK, map[string]any{"active": len(jobs), "jobs": jobs})
	}
}
