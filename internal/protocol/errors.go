package protocol

import "errors"

var (
	ErrHeaderIncomplete = errors.New("protocol: header missing required key")
	ErrHeaderTooLarge   = errors.New("protocol: header too large")
	ErrHeaderInvalid    = errors.New("protocol: header not parseable")
	ErrPayloadTooLarge  = errors.New("protocol: payload too large")
	ErrPayloadInvalid   = errors.New("protocol: payload not parseable")
	ErrHeaderEncode     = errors.New("protocol: header not encodable")
)
