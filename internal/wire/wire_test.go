package wire

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

func TestCodeRoundTrip(t *testing.T) {
	expires := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	total := 100
	in := &discount.Code{
		Code:              "SAVE10PLUS",
		Name:              "Spend more, save more",
		Source:            discount.SourceAdmin,
		Active:            true,
		ExpiresAt:         &expires,
		MaxDiscountAmount: 2500,
		MaxUsageTotal:     &total,
		MaxUsagePerEmail:  2,
		Tiered:            true,
		Rules: []discount.Rule{
			discount.Percentage{Value: decimal.RequireFromString("15"), MinOrderAmount: 5000},
			discount.Percentage{Value: decimal.RequireFromString("10"), MinOrderAmount: 2000, Priority: 1},
		},
		Restrictions: []discount.Restriction{
			{Type: discount.RestrictEmailDomain, Value: "mailinator.com"},
		},
		CreatedBy: "ops@example.com",
		CreatedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	EncodeCode(e, in)

	out, err := DecodeCode(jx.DecodeBytes(e.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, in.Code, out.Code)
	assert.Equal(t, in.Source, out.Source)
	assert.True(t, out.Active)
	assert.True(t, out.Tiered)
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, expires.Equal(*out.ExpiresAt))
	assert.Nil(t, out.StartsAt)
	require.NotNil(t, out.MaxUsageTotal)
	assert.Equal(t, 100, *out.MaxUsageTotal)
	assert.Equal(t, 2, out.MaxUsagePerEmail)
	assert.Equal(t, in.Restrictions, out.Restrictions)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))

	require.Len(t, out.Rules, 2)
	second, ok := out.Rules[1].(discount.Percentage)
	require.True(t, ok)
	assert.True(t, second.Value.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(2000), second.MinOrderAmount)
	assert.Equal(t, 1, second.Priority)
}

func TestDecodeRule(t *testing.T) {
	for _, tt := range []struct {
		name  string
		input string
		want  discount.Rule
		field string
	}{
		{name: "Fixed", input: `{"value":500,"type":"FIXED_AMOUNT"}`, want: discount.FixedAmount{Value: 500}},
		{name: "FreeShipping", input: `{"type":"FREE_SHIPPING","minOrderAmount":3000}`, want: discount.FreeShipping{MinOrderAmount: 3000}},
		{name: "BOGO", input: `{"type":"BOGO","buySku":"A","buyQuantity":1,"getSku":"B","getQuantity":1,"getDiscountPct":100}`,
			want: discount.BOGO{BuySKU: "A", BuyQuantity: 1, GetSKU: "B", GetQuantity: 1, GetDiscountPct: 100}},
		{name: "FractionalFixed", input: `{"type":"FIXED_AMOUNT","value":4.5}`, field: "value"},
		{name: "UnknownType", input: `{"type":"CASHBACK"}`, field: "type"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRule(jx.DecodeStr(tt.input))
			if tt.field != "" {
				var re *discount.RuleError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, tt.field, re.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCodeSpecActive(t *testing.T) {
	spec, err := DecodeCodeSpec(jx.DecodeStr(`{"code":"x1","rules":[{"type":"FREE_SHIPPING"}],"unknown":{"a":[1]}}`))
	require.NoError(t, err)
	assert.Nil(t, spec.Active)
	assert.Nil(t, spec.MaxUsageTotal)

	spec, err = DecodeCodeSpec(jx.DecodeStr(`{"code":"x1","active":false,"maxUsageTotal":null}`))
	require.NoError(t, err)
	require.NotNil(t, spec.Active)
	assert.False(t, *spec.Active)
	assert.Nil(t, spec.MaxUsageTotal)
}

func TestDecodeRedeemRequest(t *testing.T) {
	req, err := DecodeRedeemRequest(jx.DecodeStr(`{
		"orderId": "ord-7",
		"codes": ["welcome10"],
		"order": {"email": "a@example.com", "firstOrder": true, "shippingCost": 799,
			"items": [{"sku": "TORTILLA-CORN", "quantity": 2, "unitPrice": 650}]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "ord-7", req.OrderID)
	assert.Equal(t, []string{"welcome10"}, req.Codes)
	assert.True(t, req.Order.FirstOrder)
	assert.Equal(t, []discount.LineItem{{SKU: "TORTILLA-CORN", Quantity: 2, UnitPrice: 650}}, req.Order.Items)

	_, err = DecodeRedeemRequest(jx.DecodeStr(`{"order":{"items":[{"sku":"A","quantity":-1,"unitPrice":100}]}}`))
	require.Error(t, err)
}
