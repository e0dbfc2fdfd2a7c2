package discount

import (
	"sort"
	"time"
)

// Entry is a presented code together with everything read about it before
// evaluation. Err is set when the code could not be resolved.
type Entry struct {
	Code  string
	Def   *Code
	Usage Usage
	Err   error
}

// Applied is one code's contribution to a Decision.
type Applied struct {
	Code           string
	Source         Source
	Kind           Kind
	Merchandise    int64
	Shipping       int64
	ShippingWaived bool
	BonusItems     []BonusItem
	Label          string
}

// Dropped is a presented code that was not applied, with the reason.
type Dropped struct {
	Code    string
	Err     error
	Message string
}

// Decision is the outcome of evaluating a set of codes against an order.
type Decision struct {
	Applied             []Applied
	MerchandiseDiscount int64
	ShippingDiscount    int64
	ShippingWaived      bool
	BonusItems          []BonusItem
	Dropped             []Dropped
	// Inapplicable lists eligible codes that yield nothing for this order.
	Inapplicable []string
}

// Total returns the combined merchandise and shipping discount.
func (d *Decision) Total() int64 {
	return d.MerchandiseDiscount + d.ShippingDiscount
}

// AppliedCodes returns the codes of the applied entries in application order.
func (d *Decision) AppliedCodes() []string {
	codes := make([]string, len(d.Applied))
	for i, a := range d.Applied {
		codes[i] = a.Code
	}
	return codes
}

type scored struct {
	def  *Code
	cand Candidate
}

// Resolve filters entries to the codes legal for order, evaluates them and
// combines them into a Decision. It is pure: the same entries, order and
// time always yield the same Decision.
//
// When any applicable code is non-stackable, only the non-stackable code with
// the largest discount applies (ties go to the lowest priority value, then to
// the code string). Otherwise every applicable code applies in ascending
// priority, with merchandise and shipping discounts capped separately.
func Resolve(entries []Entry, order Order, now time.Time) Decision {
	order = order.Normalize()

	var (
		d    Decision
		pool []scored
		seen = make(map[string]struct{}, len(entries))
	)

	for _, e := range entries {
		code := NormalizeCode(e.Code)
		if e.Def != nil && code == "" {
			code = e.Def.Code
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		if e.Err != nil || e.Def == nil {
			err := e.Err
			if err == nil {
				err = ErrUnknownCode
			}
			d.drop(code, err)
			continue
		}
		if err := CheckEligibility(e.Def, order, e.Usage, now); err != nil {
			d.drop(code, err)
			continue
		}

		cand := Evaluate(e.Def, order)
		if !cand.Applicable {
			d.Inapplicable = append(d.Inapplicable, code)
			continue
		}
		pool = append(pool, scored{def: e.Def, cand: cand})
	}

	if len(pool) == 0 {
		return d
	}

	if best, ok := bestExclusive(pool); ok {
		for _, s := range pool {
			if s.def.Code != best.def.Code {
				d.drop(s.def.Code, &IneligibleError{Code: s.def.Code, Err: ErrNotCombinable})
			}
		}
		d.apply(best, order)
		return d
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return lessPriority(pool[i].def, pool[j].def)
	})
	for _, s := range pool {
		d.apply(s, order)
	}
	return d
}

// bestExclusive returns the winning non-stackable code, if any is present.
func bestExclusive(pool []scored) (scored, bool) {
	var (
		best  scored
		found bool
	)
	for _, s := range pool {
		if s.def.Stackable {
			continue
		}
		if !found {
			best, found = s, true
			continue
		}
		bt, st := best.cand.Total(), s.cand.Total()
		if st > bt || (st == bt && lessPriority(s.def, best.def)) {
			best = s
		}
	}
	return best, found
}

func lessPriority(a, b *Code) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Code < b.Code
}

// apply adds s to the decision, trimming its amounts to what is left of the
// merchandise subtotal and shipping cost.
func (d *Decision) apply(s scored, order Order) {
	merch := clamp(s.cand.Merchandise, order.Subtotal-d.MerchandiseDiscount)
	ship := clamp(s.cand.Shipping, order.ShippingCost-d.ShippingDiscount)

	d.MerchandiseDiscount += merch
	d.ShippingDiscount += ship
	d.ShippingWaived = d.ShippingWaived || s.cand.ShippingWaived
	d.BonusItems = append(d.BonusItems, s.cand.BonusItems...)
	d.Applied = append(d.Applied, Applied{
		Code:           s.def.Code,
		Source:         s.def.Source,
		Kind:           s.cand.Kind,
		Merchandise:    merch,
		Shipping:       ship,
		ShippingWaived: s.cand.ShippingWaived,
		BonusItems:     s.cand.BonusItems,
		Label:          s.cand.Label,
	})
}

func (d *Decision) drop(code string, err error) {
	d.Dropped = append(d.Dropped, Dropped{
		Code:    code,
		Err:     err,
		Message: ShopperMessage(err),
	})
}
