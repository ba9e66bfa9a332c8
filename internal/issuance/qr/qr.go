package qr

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// The concrete image renderer and its object storage live outside this
// service; a Generator only reports where the rendered QR ended up.

type Generator interface {
	GenerateQR(ctx context.Context, tenantID, cardID string) (string, error)
}

// LinkGenerator derives a public card URL, hands it to the out-of-band
// renderer, and returns the stored image location. The env hooks
// simulate a slow or failing renderer the same way the notifier stub
// does, which is what the failure-path tests lean on.
type LinkGenerator struct {
	baseURL string
}

func NewLinkGenerator(baseURL string) *LinkGenerator {
	return &LinkGenerator{baseURL: strings.TrimRight(baseURL, "/")}
}

func (g *LinkGenerator) CardURL(cardID string) string {
	return g.baseURL + "/c/" + cardID
}

func (g *LinkGenerator) GenerateQR(ctx context.Context, tenantID, cardID string) (string, error) {
	if msStr := os.Getenv("QR_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	if os.Getenv("QR_FAIL") == "1" {
		return "", fmt.Errorf("qr renderer down (simulated)")
	}

	return fmt.Sprintf("%s/qr/%s/%s.png", g.baseURL, tenantID, cardID), nil
}
