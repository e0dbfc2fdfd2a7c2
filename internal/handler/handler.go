// Package handler exposes the discount engine over HTTP.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
)

const maxBodyBytes = 1 << 20

// Handler serves checkout, reward and admin endpoints.
type Handler struct {
	service  *discount.Service
	registry *discount.Registry
	spin     *reward.SpinWheel
	feedback *reward.Feedback
	drip     *reward.Drip
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	service *discount.Service,
	registry *discount.Registry,
	spin *reward.SpinWheel,
	feedback *reward.Feedback,
	drip *reward.Drip,
) *Handler {
	return &Handler{
		service:  service,
		registry: registry,
		spin:     spin,
		feedback: feedback,
		drip:     drip,
	}
}

// Routes mounts every endpoint on r. Paths are relative to the API prefix.
// throttle guards the shopper-facing groups; it may be nil.
func (h *Handler) Routes(r chi.Router, throttle func(http.Handler) http.Handler) {
	shopper := func(r chi.Router) {
		if throttle != nil {
			r.Use(throttle)
		}
	}
	r.Route("/checkout", func(r chi.Router) {
		shopper(r)
		r.Post("/quote", h.Quote)
		r.Post("/redeem", h.Redeem)
	})
	r.Route("/rewards", func(r chi.Router) {
		shopper(r)
		r.Post("/spin", h.Spin)
		r.Post("/feedback", h.SubmitFeedback)
	})
	r.Post("/admin/drip", h.IssueDrip)
	r.Post("/admin/spins", h.GrantSpin)
	r.Route("/admin/codes", func(r chi.Router) {
		r.Post("/", h.CreateCode)
		r.Get("/", h.ListCodes)
		r.Get("/{code}", h.GetCode)
		r.Post("/{code}/deactivate", h.DeactivateCode)
		r.Get("/{code}/stats", h.CodeStats)
	})
}

// readJSON reads the request body into a decoder.
func readJSON(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return jx.DecodeBytes(b), nil
}

// writeJSON encodes the response with fn and writes it with status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("error")
		e.Str(msg)
		e.ObjEnd()
	})
}

// writeFailure maps domain errors to HTTP statuses. Unexpected errors are
// logged and reported as 500 without details.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ruleErr *discount.RuleError
	switch {
	case errors.As(err, &ruleErr):
		writeError(w, http.StatusUnprocessableEntity, ruleErr.Error())
	case errors.Is(err, discount.ErrDuplicateCode):
		writeError(w, http.StatusConflict, "discount code already exists")
	case errors.Is(err, discount.ErrUnknownCode):
		writeError(w, http.StatusNotFound, discount.ShopperMessage(err))
	case errors.Is(err, discount.ErrOrderIDRequired),
		errors.Is(err, reward.ErrUnknownPrize),
		errors.Is(err, reward.ErrInvalidRating),
		errors.Is(err, reward.ErrUnknownDripType):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, reward.ErrAlreadySpun):
		writeError(w, http.StatusConflict, "You already used your spin")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
