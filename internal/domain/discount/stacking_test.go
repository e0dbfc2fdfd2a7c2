package discount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(c *Code) Entry { return Entry{Code: c.Code, Def: c} }

func fixed(code string, value int64, stackable bool, priority int) *Code {
	return &Code{
		Code:      code,
		Source:    SourceAdmin,
		Active:    true,
		Stackable: stackable,
		Priority:  priority,
		Rules:     []Rule{FixedAmount{Value: value}},
	}
}

func freeShip(code string, stackable bool) *Code {
	return &Code{Code: code, Source: SourceDrip, Active: true, Stackable: stackable, Rules: []Rule{FreeShipping{}}}
}

func droppedCodes(d Decision) map[string]error {
	out := make(map[string]error, len(d.Dropped))
	for _, dr := range d.Dropped {
		out[dr.Code] = dr.Err
	}
	return out
}

func TestResolveExclusive(t *testing.T) {
	order := withSubtotal(6000)

	t.Run("LargestWins", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(fixed("FIVEOFF", 500, false, 0)),
			entry(save10Plus()),
		}, order, evalNow)

		assert.Equal(t, []string{"SAVE10PLUS"}, d.AppliedCodes())
		assert.Equal(t, int64(900), d.MerchandiseDiscount)
		require.Len(t, d.Dropped, 1)
		assert.ErrorIs(t, d.Dropped[0].Err, ErrNotCombinable)
		assert.Equal(t, "FIVEOFF", d.Dropped[0].Code)
	})
	t.Run("ExclusiveBeatsStackable", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(freeShip("DRIP-FREESHIP-ABC234", true)),
			entry(fixed("FIVEOFF", 500, false, 0)),
		}, order, evalNow)

		assert.Equal(t, []string{"FIVEOFF"}, d.AppliedCodes())
		assert.Zero(t, d.ShippingDiscount)
		assert.ErrorIs(t, droppedCodes(d)["DRIP-FREESHIP-ABC234"], ErrNotCombinable)
	})
	t.Run("TieGoesToPriority", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(fixed("AAA", 500, false, 5)),
			entry(fixed("ZZZ", 500, false, 1)),
		}, order, evalNow)
		assert.Equal(t, []string{"ZZZ"}, d.AppliedCodes())
	})
	t.Run("TieGoesToCode", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(fixed("ZZZ", 500, false, 0)),
			entry(fixed("AAA", 500, false, 0)),
		}, order, evalNow)
		assert.Equal(t, []string{"AAA"}, d.AppliedCodes())
	})
}

func TestResolveStacking(t *testing.T) {
	t.Run("SeparateLines", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(freeShip("SHIPFREE", true)),
			entry(fixed("FIVEOFF", 500, true, 1)),
		}, withSubtotal(4000), evalNow)

		assert.Equal(t, []string{"SHIPFREE", "FIVEOFF"}, d.AppliedCodes())
		assert.Equal(t, int64(500), d.MerchandiseDiscount)
		assert.Equal(t, int64(799), d.ShippingDiscount)
		assert.True(t, d.ShippingWaived)
		assert.Equal(t, int64(1299), d.Total())
	})
	t.Run("MerchandiseNeverNegative", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(fixed("BIG1", 4000, true, 1)),
			entry(fixed("BIG2", 4000, true, 2)),
		}, withSubtotal(6000), evalNow)

		require.Len(t, d.Applied, 2)
		assert.Equal(t, int64(4000), d.Applied[0].Merchandise)
		assert.Equal(t, int64(2000), d.Applied[1].Merchandise)
		assert.Equal(t, int64(6000), d.MerchandiseDiscount)
	})
	t.Run("ShippingWaivedOnce", func(t *testing.T) {
		d := Resolve([]Entry{
			entry(freeShip("SHIP1", true)),
			entry(freeShip("SHIP2", true)),
		}, withSubtotal(4000), evalNow)

		assert.Len(t, d.Applied, 2)
		assert.Equal(t, int64(799), d.ShippingDiscount)
	})
}

func TestResolveFiltering(t *testing.T) {
	used := fixed("ONCE", 500, false, 0)
	d := Resolve([]Entry{
		{Code: "nope", Err: ErrUnknownCode},
		{Code: "ONCE", Def: used, Usage: Usage{EmailRedemptions: 1}},
		entry(save10Plus()),
		entry(save10Plus()),
	}, withSubtotal(1000), evalNow)

	assert.Empty(t, d.Applied)
	assert.Equal(t, []string{"SAVE10PLUS"}, d.Inapplicable)

	dropped := droppedCodes(d)
	require.Len(t, dropped, 2)
	assert.ErrorIs(t, dropped["NOPE"], ErrUnknownCode)
	assert.ErrorIs(t, dropped["ONCE"], ErrPerEmailCapReached)
	for _, dr := range d.Dropped {
		assert.NotEmpty(t, dr.Message)
	}
}

func TestResolveDeterministic(t *testing.T) {
	entries := []Entry{
		entry(freeShip("SHIPFREE", true)),
		entry(fixed("FIVEOFF", 500, true, 3)),
		entry(fixed("TWOOFF", 200, true, 3)),
		{Code: "GHOST", Err: ErrUnknownCode},
	}
	reversed := make([]Entry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}

	order := withSubtotal(5000)
	first := Resolve(entries, order, evalNow)
	assert.Equal(t, first, Resolve(entries, order, evalNow))

	other := Resolve(reversed, order, evalNow)
	assert.Equal(t, first.Applied, other.Applied)
	assert.Equal(t, first.Total(), other.Total())
	assert.Equal(t, []string{"SHIPFREE", "FIVEOFF", "TWOOFF"}, first.AppliedCodes())
}
