package discount

import (
	"context"
	"time"
)

// Provider resolves code strings minted by one producer into evaluable Codes
// and redeems them. The registry and every reward adapter implement it, so
// quoting and redemption never special-case a source.
type Provider interface {
	// Source identifies the producer.
	Source() Source
	// Owns reports whether code belongs to this provider's namespace.
	Owns(code string) bool
	// Lookup returns the evaluable view of code, or ErrUnknownCode.
	Lookup(ctx context.Context, code string) (*Code, error)
	// Redemptions counts prior redemptions of code by email.
	Redemptions(ctx context.Context, code, email string) (int, error)
	// RedeemedBy reports whether orderID already consumed code.
	RedeemedBy(ctx context.Context, code, orderID string) (bool, error)
	// Redeem consumes one use of the code atomically. It returns
	// ErrNoLongerAvailable when a cap or single-use marker was taken since
	// the quote, and nil without side effects when the same order already
	// redeemed the code.
	Redeem(ctx context.Context, r Redemption) error
}

// Catalog is a reward producer whose codes the registry lists next to admin
// codes. Its prefix is reserved: admin codes may not start with it.
type Catalog interface {
	Source() Source
	Prefix() string
	// ListCodes returns the evaluable views of the producer's codes matching
	// f, newest first. f.Source is ignored.
	ListCodes(ctx context.Context, f ListFilter, now time.Time) ([]Code, error)
}
