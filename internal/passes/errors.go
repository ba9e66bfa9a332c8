package passes

import "errors"

var (
	ErrInvalidPlatform = errors.New("invalid wallet platform")
	ErrInvalidMetadata = errors.New("invalid job metadata")
)
