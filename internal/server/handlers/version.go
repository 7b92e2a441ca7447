package handlers

import (
	"net/http"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/crucible"

	apperrors "github.com/3leaps/gomian/internal/errors"
)

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Gofulmen  string `json:"gofulmen,omitempty"`
}

var (
	buildMu   sync.RWMutex
	buildInfo = VersionResponse{Name: "gomian", Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetBuildInfo records what VersionHandler reports.
func SetBuildInfo(version, commit, buildDate string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	buildInfo.Version = version
	buildInfo.Commit = commit
	buildInfo.BuildDate = buildDate
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	buildMu.RLock()
	resp := buildInfo
	buildMu.RUnlock()
	resp.GoVersion = runtime.Version()
	resp.Gofulmen = crucible.GetVersion().Gofulmen
	apperrors.WriteJSON(w, http.StatusOK, resp)
}
