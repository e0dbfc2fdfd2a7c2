package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// DecodeQuoteRequest reads {"order": {...}, "codes": [...]}.
func DecodeQuoteRequest(d *jx.Decoder) (discount.QuoteRequest, error) {
	var req discount.QuoteRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order":
			req.Order, err = DecodeOrder(d)
		case "codes":
			req.Codes, err = decodeStrings(d)
		default:
			return d.Skip()
		}
		return err
	})
	return req, err
}

// DecodeRedeemRequest reads {"orderId": "...", "order": {...}, "codes": [...]}.
func DecodeRedeemRequest(d *jx.Decoder) (discount.RedeemRequest, error) {
	var req discount.RedeemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			req.OrderID, err = d.Str()
		case "order":
			req.Order, err = DecodeOrder(d)
		case "codes":
			req.Codes, err = decodeStrings(d)
		default:
			return d.Skip()
		}
		return err
	})
	return req, err
}

// DecodeOrder reads an order context. Amounts are integer minor units.
func DecodeOrder(d *jx.Decoder) (discount.Order, error) {
	var o discount.Order
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeLineItem(d)
				if err != nil {
					return err
				}
				o.Items = append(o.Items, it)
				return nil
			})
		case "subtotal":
			o.Subtotal, err = d.Int64()
		case "email":
			o.Email, err = d.Str()
		case "firstOrder":
			o.FirstOrder, err = d.Bool()
		case "shippingCost":
			o.ShippingCost, err = d.Int64()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "order field %q", key)
		}
		return nil
	})
	return o, err
}

func decodeLineItem(d *jx.Decoder) (discount.LineItem, error) {
	var it discount.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "sku":
			it.SKU, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		case "unitPrice":
			it.UnitPrice, err = d.Int64()
		default:
			return d.Skip()
		}
		return err
	})
	if err == nil && (it.Quantity < 0 || it.UnitPrice < 0) {
		err = errors.New("line item quantity and price must not be negative")
	}
	return it, err
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// EncodeDecision writes a discount decision.
func EncodeDecision(e *jx.Encoder, d *discount.Decision) {
	e.ObjStart()
	encodeDecisionFields(e, d)
	e.ObjEnd()
}

func encodeDecisionFields(e *jx.Encoder, d *discount.Decision) {
	e.FieldStart("merchandiseDiscount")
	e.Int64(d.MerchandiseDiscount)
	e.FieldStart("shippingDiscount")
	e.Int64(d.ShippingDiscount)
	e.FieldStart("totalDiscount")
	e.Int64(d.Total())
	e.FieldStart("shippingWaived")
	e.Bool(d.ShippingWaived)

	e.FieldStart("applied")
	e.ArrStart()
	for _, a := range d.Applied {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(a.Code)
		e.FieldStart("source")
		e.Str(string(a.Source))
		e.FieldStart("kind")
		e.Str(string(a.Kind))
		e.FieldStart("merchandise")
		e.Int64(a.Merchandise)
		e.FieldStart("shipping")
		e.Int64(a.Shipping)
		e.FieldStart("label")
		e.Str(a.Label)
		if len(a.BonusItems) > 0 {
			e.FieldStart("bonusItems")
			encodeBonusItems(e, a.BonusItems)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("bonusItems")
	encodeBonusItems(e, d.BonusItems)

	e.FieldStart("dropped")
	encodeDropped(e, d.Dropped)

	e.FieldStart("inapplicable")
	e.ArrStart()
	for _, c := range d.Inapplicable {
		e.Str(c)
	}
	e.ArrEnd()
}

// EncodeRedeemResult writes the outcome of a redemption.
func EncodeRedeemResult(e *jx.Encoder, r *discount.RedeemResult) {
	e.ObjStart()
	encodeDecisionFields(e, &r.Decision)
	e.FieldStart("redeemed")
	e.ArrStart()
	for _, c := range r.Redeemed {
		e.Str(c)
	}
	e.ArrEnd()
	e.FieldStart("unavailable")
	encodeDropped(e, r.Unavailable)
	e.ObjEnd()
}

// EncodeUsageStats writes aggregated redemption stats of a code.
func EncodeUsageStats(e *jx.Encoder, s *discount.UsageStats) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(s.Code)
	e.FieldStart("totalUses")
	e.Int(s.TotalUses)
	e.FieldStart("uniqueEmails")
	e.Int(s.UniqueEmails)
	e.FieldStart("totalDiscount")
	e.Int64(s.TotalDiscount)
	e.FieldStart("recent")
	e.ArrStart()
	for _, r := range s.Recent {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Str(r.OrderID)
		e.FieldStart("email")
		e.Str(r.Email)
		e.FieldStart("amount")
		e.Int64(r.Amount)
		e.FieldStart("redeemedAt")
		e.Str(r.RedeemedAt.UTC().Format(time.RFC3339Nano))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeBonusItems(e *jx.Encoder, items []discount.BonusItem) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("sku")
		e.Str(it.SKU)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("value")
		e.Int64(it.Value)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeDropped(e *jx.Encoder, dropped []discount.Dropped) {
	e.ArrStart()
	for _, d := range dropped {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(d.Code)
		e.FieldStart("message")
		e.Str(d.Message)
		e.ObjEnd()
	}
	e.ArrEnd()
}
