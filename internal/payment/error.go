package payment

import "errors"

var (
	ErrDuplicateVerification = errors.New("payment already verified")

	// -- Constants (External Systems) --
	PgUniqueViolation = "23505"
)
