package notifications

import (
	"context"

	"github.com/outreachpass/passhub/internal/passes"
)

type SendPassIssuedInput struct {
	Email    string
	Name     string
	CardID   string
	QRURL    string
	PassURLs []passes.WalletPass
}

// Notifier delivers the issued pass links to the attendee. Delivery is
// best-effort: a failed send never rolls issuance back.
type Notifier interface {
	SendPassIssued(ctx context.Context, input SendPassIssuedInput) error
}
