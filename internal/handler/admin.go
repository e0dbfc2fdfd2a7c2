package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/wire"
)

// CreateCode registers a new discount code.
func (h *Handler) CreateCode(w http.ResponseWriter, r *http.Request) {
	d, err := readJSON(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	spec, err := wire.DecodeCodeSpec(d)
	if err != nil {
		writeFailureOrBadRequest(w, r, err)
		return
	}

	c, err := h.registry.CreateCode(r.Context(), spec)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		wire.EncodeCode(e, c)
	})
}

// ListCodes lists admin and reward codes, newest first.
//
// Query parameters: source, active, includeExpired, limit, offset.
func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := discount.ListFilter{Source: discount.Source(q.Get("source"))}
	if f.Source != "" && !f.Source.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source "+string(f.Source))
		return
	}

	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		f.Active = &active
	}
	if v := q.Get("includeExpired"); v != "" {
		inc, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "includeExpired must be a boolean")
			return
		}
		f.IncludeExpired = inc
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
				return
			}
			*dst = n
		}
	}

	codes, err := h.registry.ListCodes(r.Context(), f)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("codes")
		e.ArrStart()
		for i := range codes {
			wire.EncodeCode(e, &codes[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetCode returns one registry code.
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	c, err := h.registry.FindByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeCode(e, c)
	})
}

// DeactivateCode soft-deletes a registry code.
func (h *Handler) DeactivateCode(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deactivate(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CodeStats returns redemption stats of a registry code.
func (h *Handler) CodeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.UsageStats(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeUsageStats(e, stats)
	})
}

// writeFailureOrBadRequest reports rule errors raised while decoding as 422
// and any other decoding error as 400.
func writeFailureOrBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, discount.ErrInvalidRule) {
		writeFailure(w, r, err)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
}
