package protocol

import "errors"

var (
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	ErrMissingModule    = errors.New("protocol: missing module")
)
