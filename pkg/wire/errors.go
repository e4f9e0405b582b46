package wire

import "errors"

var (
	// ErrUnauthorized is returned when a request other than
	// get_cluster_metadata carries a missing or invalid bearer token.
	ErrUnauthorized = errors.New("wire: unauthorized")

	// ErrUnknownType is returned when an envelope's type field does not
	// match any recognized request type.
	ErrUnknownType = errors.New("wire: unknown request type")

	// ErrFrameTooLarge is returned by WriteFrame when a body is longer than
	// the 65535 bytes a uint16_le length prefix can express.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)
