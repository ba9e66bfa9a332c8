package passes

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is the free-form context stored on a job: which wallet
// platforms were requested, per-platform failure notes from the last
// attempt, and the notification outcome. Notification failure never
// fails the job, so its error lives here rather than in error_message.

type Metadata struct {
	Platforms      []Platform          `json:"platforms,omitempty"`
	PlatformErrors map[Platform]string `json:"platformErrors,omitempty"`
	NotifiedAt     *time.Time          `json:"notifiedAt,omitempty"`
	NotifyError    string              `json:"notifyError,omitempty"`
	RequestedBy    string              `json:"requestedBy,omitempty"`
}

func (m Metadata) Validate() error {
	for _, p := range m.Platforms {
		if !p.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidPlatform, p)
		}
	}
	return nil
}

func (m Metadata) JSON() (json.RawMessage, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(m)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	return json.RawMessage(b), nil
}

// DecodeMetadata unmarshals job metadata; empty input yields the zero value.
func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	var m Metadata

	if len(raw) == 0 {
		return m, nil
	}

	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}

	return m, nil
}

// a WalletPass is one issued platform pass; the job's wallet_pass_url
// column holds a json list of these rather than a single value.

type WalletPass struct {
	Platform Platform `json:"platform"`
	URL      string   `json:"url"`
}

func EncodeWalletPasses(list []WalletPass) (json.RawMessage, error) {
	if len(list) == 0 {
		return nil, nil
	}

	b, err := json.Marshal(list)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func DecodeWalletPasses(raw json.RawMessage) ([]WalletPass, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []WalletPass

	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// HasPlatform reports whether a pass for the platform is already issued.
func HasPlatform(list []WalletPass, p Platform) bool {
	for _, wp := range list {
		if wp.Platform == p {
			return true
		}
	}
	return false
}
