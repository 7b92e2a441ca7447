package handlers

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/3leaps/gomian/internal/errors"
	"github.com/3leaps/gomian/internal/server/middleware"
	"github.com/3leaps/gomian/pkg/request"
)

// DataHandler serves the read-only project endpoints. They run in-process
// and are not supervised.
type DataHandler struct {
	data ProjectReader
}

func NewDataHandler(data ProjectReader) *DataHandler {
	return &DataHandler{data: data}
}

type readFunc func(h *DataHandler, r *http.Request, uid, pid string) (any, error)

// route resolves the project owner, the session user or ?uid= on share
// routes, and answers {} when pid or a required parameter is empty.
// Parameters come from the query string or a form body.
func (h *DataHandler) route(shared bool, required []string, fn readFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			respondWithError(w, r, &request.MalformedInputError{Field: "body", Err: err})
			return
		}
		q := r.Form
		pid := q.Get(request.FieldProjectID)

		var uid string
		if shared {
			uid = q.Get(request.FieldUserID)
			if err := checkShared(r.Context(), h.data, uid, pid); err != nil {
				respondWithError(w, r, err)
				return
			}
		} else {
			user, ok := middleware.UserFrom(r.Context())
			if !ok {
				respondWithError(w, r, apperrors.NewUnauthorized(""))
				return
			}
			uid = user.ID
		}

		if strings.TrimSpace(pid) == "" {
			apperrors.WriteJSON(w, http.StatusOK, map[string]any{})
			return
		}
		for _, name := range required {
			if strings.TrimSpace(q.Get(name)) == "" {
				apperrors.WriteJSON(w, http.StatusOK, map[string]any{})
				return
			}
		}

		out, err := fn(h, r, uid, pid)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		apperrors.WriteJSON(w, http.StatusOK, out)
	}
}

// Taxonomies serves /taxonomies: the taxonomy tree of the project.
func (h *DataHandler) Taxonomies(shared bool) http.HandlerFunc {
	return h.route(shared, nil, func(h *DataHandler, r *http.Request, uid, pid string) (any, error) {
		tax, err := h.data.LoadTaxonomyMap(r.Context(), uid, pid)
		if err != nil {
			return nil, err
		}
		return tax.Tree(), nil
	})
}

// MetadataHeadersWithType serves /metadata_headers_with_type.
func (h *DataHandler) MetadataHeadersWithType(shared bool) http.HandlerFunc {
	return h.route(shared, nil, func(h *DataHandler, r *http.Request, uid, pid string) (any, error) {
		md, err := h.data.LoadMetadata(r.Context(), uid, pid)
		if err != nil {
			return nil, err
		}
		return map[string]any{"headers": md.HeadersWithType(), "hasGenes": false}, nil
	})
}

// MetadataVals serves /metadata_vals: the distinct values of ?catvar=.
func (h *DataHandler) MetadataVals(shared bool) http.HandlerFunc {
	return h.route(shared, []string{request.FieldCatVar}, func(h *DataHandler, r *http.Request, uid, pid string) (any, error) {
		md, err := h.data.LoadMetadata(r.Context(), uid, pid)
		if err != nil {
			return nil, err
		}
		vals, err := md.Unique(r.Form.Get(request.FieldCatVar))
		if err != nil {
			return nil, err
		}
		return vals, nil
	})
}

// OTUTableHeadersAtLevel serves /otu_table_headers_at_level.
func (h *DataHandler) OTUTableHeadersAtLevel(shared bool) http.HandlerFunc {
	return h.route(shared, []string{request.FieldLevel}, func(h *DataHandler, r *http.Request, uid, pid string) (any, error) {
		raw := strings.TrimSpace(r.Form.Get(request.FieldLevel))
		level, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &request.TypeConversionError{Field: request.FieldLevel, Kind: request.Int, Value: raw, Err: err}
		}
		headers, err := h.data.HeadersAtLevel(r.Context(), uid, pid, level)
		if err != nil {
			return nil, err
		}
		return headers, nil
	})
}

// IsSubsampled serves /isSubsampled: 1 when the project's table was
// rarefied at upload, else 0.
func (h *DataHandler) IsSubsampled(shared bool) http.HandlerFunc {
	return h.route(shared, nil, func(h *DataHandler, r *http.Request, uid, pid string) (any, error) {
		info, err := h.data.LoadInfo(r.Context(), uid, pid)
		if err != nil {
			return nil, err
		}
		if info.SubsampledValue == 0 {
			return 0, nil
		}
		return 1, nil
	})
}

// SharingStatus serves /get_sharing_status for the session user's project.
func (h *DataHandler) SharingStatus(w http.ResponseWriter, r *http.Request) {
	h.route(false, nil, func(h *DataHandler, r *http.Request, uid, pid string) (any, error) {
		info, err := h.data.LoadInfo(r.Context(), uid, pid)
		if err != nil {
			return nil, err
		}
		status := "no"
		if info.Shared {
			status = "yes"
		}
		return map[string]string{"share": status}, nil
	})(w, r)
}

// Projects serves /projects: the session user's project descriptors.
func (h *DataHandler) Projects(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		respondWithError(w, r, apperrors.NewUnauthorized(""))
		return
	}
	infos, err := h.data.ListProjects(r.Context(), user.ID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, infos)
}
