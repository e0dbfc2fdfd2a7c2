package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/tortilla-discounts/internal/domain/reward"
)

// Spin awards the shopper's one spin-wheel prize.
//
// Body: {"email": "...", "prizeId": "five_off"}; prizeId is optional and only
// honored for segments on the wheel.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	email, prizeID, ok := decodeSpin(w, r)
	if !ok {
		return
	}
	res, err := h.spin.Spin(r.Context(), email, prizeID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSpin(w, http.StatusOK, res)
}

// GrantSpin awards a chosen prize, off-wheel ones included, on a shopper's
// behalf.
//
// Body: {"email": "...", "prizeId": "jackpot"}.
func (h *Handler) GrantSpin(w http.ResponseWriter, r *http.Request) {
	email, prizeID, ok := decodeSpin(w, r)
	if !ok {
		return
	}
	if prizeID == "" {
		writeError(w, http.StatusBadRequest, "prizeId is required")
		return
	}
	res, err := h.spin.Grant(r.Context(), email, prizeID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadySpun {
		status = http.StatusOK
	}
	writeSpin(w, status, res)
}

func decodeSpin(w http.ResponseWriter, r *http.Request) (email, prizeID string, ok bool) {
	d, err := readJSON(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", "", false
	}
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "email":
			email, err = d.Str()
		case "prizeId":
			prizeID, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", "", false
	}
	if email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return "", "", false
	}
	return email, prizeID, true
}

func writeSpin(w http.ResponseWriter, status int, res *reward.SpinResult) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("alreadySpun")
		e.Bool(res.AlreadySpun)
		e.FieldStart("prize")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(res.Prize.ID)
		e.FieldStart("name")
		e.Str(res.Prize.Name)
		e.FieldStart("description")
		e.Str(res.Prize.Description)
		e.FieldStart("type")
		e.Str(string(res.Prize.Rule.Kind()))
		e.ObjEnd()
		e.FieldStart("code")
		e.Str(res.Entry.Code)
		e.FieldStart("expiresAt")
		e.Str(res.Entry.ExpiresAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	})
}

// SubmitFeedback records post-purchase feedback and returns the thank-you
// coupon.
//
// Body: {"email": "...", "orderNumber": "...", "rating": 5}.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	d, err := readJSON(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var (
		email, orderNumber string
		rating             int
	)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "email":
			email, err = d.Str()
		case "orderNumber":
			orderNumber, err = d.Str()
		case "rating":
			rating, err = d.Int()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if email == "" || orderNumber == "" {
		writeError(w, http.StatusBadRequest, "email and orderNumber are required")
		return
	}

	coupon, already, err := h.feedback.Issue(r.Context(), email, orderNumber, rating)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("alreadySubmitted")
		e.Bool(already)
		e.FieldStart("couponCode")
		e.Str(coupon.Code)
		e.FieldStart("expiresAt")
		e.Str(coupon.ExpiresAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	})
}

// IssueDrip mints a code for one drip campaign email.
//
// Body: {"email": "...", "campaignId": "...", "emailNumber": 2,
// "type": "FREESHIP", "expiresAt": "2026-12-01T00:00:00Z"}.
func (h *Handler) IssueDrip(w http.ResponseWriter, r *http.Request) {
	d, err := readJSON(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var in reward.DripIssue
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "email":
			in.Email, err = d.Str()
		case "campaignId":
			in.CampaignID, err = d.Str()
		case "emailNumber":
			in.EmailNumber, err = d.Int()
		case "type":
			var s string
			s, err = d.Str()
			in.Type = reward.DripType(s)
		case "expiresAt":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var s string
			if s, err = d.Str(); err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return err
			}
			in.ExpiresAt = &t
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if in.Email == "" || in.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "email and campaignId are required")
		return
	}

	c, err := h.drip.Issue(r.Context(), in)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(c.Code)
		e.FieldStart("type")
		e.Str(string(c.Type))
		e.FieldStart("stackable")
		e.Bool(c.Type == reward.DripFreeShip)
		if c.ExpiresAt != nil {
			e.FieldStart("expiresAt")
			e.Str(c.ExpiresAt.UTC().Format(time.RFC3339))
		}
		e.ObjEnd()
	})
}
