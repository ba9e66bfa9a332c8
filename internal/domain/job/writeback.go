package job

import "encoding/json"

// ProgressUpdate carries outputs gathered by a failed attempt so a
// retry can resume at the first incomplete step. Fields only fill in;
// populated columns are never overwritten.
type ProgressUpdate struct {
	CardID         *string
	QRURL          *string
	WalletPassURLs json.RawMessage
	Metadata       json.RawMessage
}

// CompletionUpdate is the terminal-success write-back.
type CompletionUpdate struct {
	CardID         string
	QRURL          string
	WalletPassURLs json.RawMessage
	Metadata       json.RawMessage
}
