package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/tortilla-discounts/internal/wire"
)

// Quote evaluates codes against an order without consuming them.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	d, err := readJSON(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := wire.DecodeQuoteRequest(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision, err := h.service.Quote(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeDecision(e, decision)
	})
}

// Redeem consumes the codes applied to a completed order.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	d, err := readJSON(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := wire.DecodeRedeemRequest(d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.service.Redeem(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		wire.EncodeRedeemResult(e, res)
	})
}
