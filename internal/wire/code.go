// Package wire holds the JSON representation of discount codes, orders and
// decisions, shared by the HTTP surface, the code cache and the import tool.
package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// EncodeCode writes c as a JSON object.
func EncodeCode(e *jx.Encoder, c *discount.Code) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("name")
	e.Str(c.Name)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("source")
	e.Str(string(c.Source))
	e.FieldStart("active")
	e.Bool(c.Active)
	encodeTimePtr(e, "startsAt", c.StartsAt)
	encodeTimePtr(e, "expiresAt", c.ExpiresAt)
	e.FieldStart("minOrderAmount")
	e.Int64(c.MinOrderAmount)
	e.FieldStart("maxDiscountAmount")
	e.Int64(c.MaxDiscountAmount)
	if c.MaxUsageTotal != nil {
		e.FieldStart("maxUsageTotal")
		e.Int(*c.MaxUsageTotal)
	}
	e.FieldStart("maxUsagePerEmail")
	e.Int(c.MaxUsagePerEmail)
	e.FieldStart("currentUsageCount")
	e.Int(c.CurrentUsageCount)
	e.FieldStart("firstOrderOnly")
	e.Bool(c.FirstOrderOnly)
	e.FieldStart("stackable")
	e.Bool(c.Stackable)
	e.FieldStart("priority")
	e.Int(c.Priority)
	e.FieldStart("tiered")
	e.Bool(c.Tiered)
	if c.OwnerEmail != "" {
		e.FieldStart("ownerEmail")
		e.Str(c.OwnerEmail)
	}
	e.FieldStart("rules")
	e.ArrStart()
	for _, r := range c.Rules {
		EncodeRule(e, r)
	}
	e.ArrEnd()
	e.FieldStart("restrictions")
	e.ArrStart()
	for _, r := range c.Restrictions {
		encodeRestriction(e, r)
	}
	e.ArrEnd()
	if c.CreatedBy != "" {
		e.FieldStart("createdBy")
		e.Str(c.CreatedBy)
	}
	if !c.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		e.Str(c.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	e.ObjEnd()
}

// DecodeCode reads a JSON object written by EncodeCode.
func DecodeCode(d *jx.Decoder) (*discount.Code, error) {
	var c discount.Code
	if _, err := decodeCodeInto(d, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DecodeCodeSpec reads an admin create request. Unknown fields are ignored.
func DecodeCodeSpec(d *jx.Decoder) (discount.CodeSpec, error) {
	var c discount.Code
	activeSet, err := decodeCodeInto(d, &c)
	if err != nil {
		return discount.CodeSpec{}, err
	}
	spec := discount.CodeSpec{
		Code:              c.Code,
		Name:              c.Name,
		Description:       c.Description,
		Source:            c.Source,
		StartsAt:          c.StartsAt,
		ExpiresAt:         c.ExpiresAt,
		MinOrderAmount:    c.MinOrderAmount,
		MaxDiscountAmount: c.MaxDiscountAmount,
		MaxUsageTotal:     c.MaxUsageTotal,
		MaxUsagePerEmail:  c.MaxUsagePerEmail,
		FirstOrderOnly:    c.FirstOrderOnly,
		Stackable:         c.Stackable,
		Priority:          c.Priority,
		Tiered:            c.Tiered,
		Rules:             c.Rules,
		Restrictions:      c.Restrictions,
		CreatedBy:         c.CreatedBy,
	}
	if activeSet {
		active := c.Active
		spec.Active = &active
	}
	return spec, nil
}

// decodeCodeInto fills c and reports whether "active" was present.
func decodeCodeInto(d *jx.Decoder, c *discount.Code) (activeSet bool, err error) {
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "source":
			var s string
			s, err = d.Str()
			c.Source = discount.Source(s)
		case "active":
			activeSet = true
			c.Active, err = d.Bool()
		case "startsAt":
			c.StartsAt, err = decodeTimePtr(d)
		case "expiresAt":
			c.ExpiresAt, err = decodeTimePtr(d)
		case "minOrderAmount":
			c.MinOrderAmount, err = d.Int64()
		case "maxDiscountAmount":
			c.MaxDiscountAmount, err = d.Int64()
		case "maxUsageTotal":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v int
			v, err = d.Int()
			c.MaxUsageTotal = &v
		case "maxUsagePerEmail":
			c.MaxUsagePerEmail, err = d.Int()
		case "currentUsageCount":
			c.CurrentUsageCount, err = d.Int()
		case "firstOrderOnly":
			c.FirstOrderOnly, err = d.Bool()
		case "stackable":
			c.Stackable, err = d.Bool()
		case "priority":
			c.Priority, err = d.Int()
		case "tiered":
			c.Tiered, err = d.Bool()
		case "ownerEmail":
			c.OwnerEmail, err = d.Str()
		case "rules":
			err = d.Arr(func(d *jx.Decoder) error {
				r, err := DecodeRule(d)
				if err != nil {
					return err
				}
				c.Rules = append(c.Rules, r)
				return nil
			})
		case "restrictions":
			err = d.Arr(func(d *jx.Decoder) error {
				r, err := decodeRestriction(d)
				if err != nil {
					return err
				}
				c.Restrictions = append(c.Restrictions, r)
				return nil
			})
		case "createdBy":
			c.CreatedBy, err = d.Str()
		case "createdAt":
			var t *time.Time
			t, err = decodeTimePtr(d)
			if t != nil {
				c.CreatedAt = *t
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return activeSet, err
}

// EncodeRule writes r as a JSON object tagged by "type".
func EncodeRule(e *jx.Encoder, r discount.Rule) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(r.Kind()))
	switch r := r.(type) {
	case discount.Percentage:
		e.FieldStart("value")
		e.Raw([]byte(r.Value.String()))
		e.FieldStart("maxDiscount")
		e.Int64(r.MaxDiscount)
		e.FieldStart("minOrderAmount")
		e.Int64(r.MinOrderAmount)
	case discount.FixedAmount:
		e.FieldStart("value")
		e.Int64(r.Value)
		e.FieldStart("minOrderAmount")
		e.Int64(r.MinOrderAmount)
	case discount.FreeShipping:
		e.FieldStart("minOrderAmount")
		e.Int64(r.MinOrderAmount)
	case discount.BOGO:
		e.FieldStart("buySku")
		e.Str(r.BuySKU)
		e.FieldStart("buyQuantity")
		e.Int(r.BuyQuantity)
		e.FieldStart("getSku")
		e.Str(r.GetSKU)
		e.FieldStart("getQuantity")
		e.Int(r.GetQuantity)
		e.FieldStart("getDiscountPct")
		e.Int(r.GetDiscountPct)
	case discount.ProductCredit:
		e.FieldStart("sku")
		e.Str(r.SKU)
		e.FieldStart("quantity")
		e.Int(r.Quantity)
		e.FieldStart("value")
		e.Int64(r.Value)
	}
	e.FieldStart("priority")
	e.Int(r.Order())
	e.ObjEnd()
}

// DecodeRule reads a rule object. The "type" tag may appear anywhere in it.
func DecodeRule(d *jx.Decoder) (discount.Rule, error) {
	var (
		kind  string
		value decimal.Decimal
		p     discount.Percentage
		b     discount.BOGO
		pc    discount.ProductCredit
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			kind, err = d.Str()
		case "value":
			var n jx.Num
			if n, err = d.Num(); err == nil {
				value, err = decimal.NewFromString(string(n))
			}
		case "maxDiscount":
			p.MaxDiscount, err = d.Int64()
		case "minOrderAmount":
			p.MinOrderAmount, err = d.Int64()
		case "priority":
			p.Priority, err = d.Int()
		case "buySku":
			b.BuySKU, err = d.Str()
		case "buyQuantity":
			b.BuyQuantity, err = d.Int()
		case "getSku":
			b.GetSKU, err = d.Str()
		case "getQuantity":
			b.GetQuantity, err = d.Int()
		case "getDiscountPct":
			b.GetDiscountPct, err = d.Int()
		case "sku":
			pc.SKU, err = d.Str()
		case "quantity":
			pc.Quantity, err = d.Int()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "rule field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch discount.Kind(kind) {
	case discount.KindPercentage:
		p.Value = value
		return p, nil
	case discount.KindFixedAmount:
		if !value.IsInteger() {
			return nil, &discount.RuleError{Field: "value", Reason: "fixed amount must be whole minor units"}
		}
		return discount.FixedAmount{Value: value.IntPart(), MinOrderAmount: p.MinOrderAmount, Priority: p.Priority}, nil
	case discount.KindFreeShipping:
		return discount.FreeShipping{MinOrderAmount: p.MinOrderAmount, Priority: p.Priority}, nil
	case discount.KindBOGO:
		b.Priority = p.Priority
		return b, nil
	case discount.KindProductCredit:
		pc.Value = value.IntPart()
		pc.Priority = p.Priority
		return pc, nil
	default:
		return nil, &discount.RuleError{Field: "type", Reason: "unsupported rule type " + kind}
	}
}

func encodeRestriction(e *jx.Encoder, r discount.Restriction) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(string(r.Type))
	e.FieldStart("value")
	e.Str(r.Value)
	e.FieldStart("include")
	e.Bool(r.Include)
	e.ObjEnd()
}

func decodeRestriction(d *jx.Decoder) (discount.Restriction, error) {
	r := discount.Restriction{Include: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "type":
			var s string
			s, err = d.Str()
			r.Type = discount.RestrictionType(s)
		case "value":
			r.Value, err = d.Str()
		case "include":
			r.Include, err = d.Bool()
		default:
			return d.Skip()
		}
		return err
	})
	return r, err
}

func encodeTimePtr(e *jx.Encoder, name string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func decodeTimePtr(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
