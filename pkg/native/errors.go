package native

import "errors"

// Codec and validation errors.
var (
	ErrShortBuffer       = errors.New("native: buffer too short")
	ErrTrailingBytes     = errors.New("native: trailing bytes after structure")
	ErrLengthMismatch    = errors.New("native: buffer shorter than declared length")
	ErrAmbiguousReply    = errors.New("native: authorize reply carries both read and write parameters")
	ErrEmptyReply        = errors.New("native: authorize reply carries neither read nor write parameters")
	ErrReplyTypeMismatch = errors.New("native: authorize reply type does not match its parameters")
	ErrInvalidParams     = errors.New("native: event params are not a packed structure")
)
