package wallet

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/outreachpass/passhub/internal/passes"
)

// Builder hands a card to the external platform pass builder (PKPass
// bundle, Google Wallet JWT link) and returns the hosted pass URL.
type Builder interface {
	BuildPass(ctx context.Context, cardID string, platform passes.Platform) (string, error)
}

// StubBuilder stands in for the real platform builders. Per-platform
// env switches (WALLET_FAIL_APPLE=1, WALLET_FAIL_GOOGLE=1) simulate a
// single platform being down without touching the other.
type StubBuilder struct {
	baseURL string
}

func NewStubBuilder(baseURL string) *StubBuilder {
	return &StubBuilder{baseURL: strings.TrimRight(baseURL, "/")}
}

func (b *StubBuilder) BuildPass(ctx context.Context, cardID string, platform passes.Platform) (string, error) {
	if !platform.IsValid() {
		return "", passes.ErrInvalidPlatform
	}

	if os.Getenv("WALLET_FAIL_"+strings.ToUpper(string(platform))) == "1" {
		return "", fmt.Errorf("%s pass builder down (simulated)", platform)
	}

	return fmt.Sprintf("%s/wallet/%s/%s", b.baseURL, platform, cardID), nil
}
