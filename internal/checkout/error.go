package checkout

import "errors"

var (
	ErrNoCheckout          = errors.New("no payable unpaid order")
	ErrRequirementsMissing = errors.New("order requirements are not supplied")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrInvalidCallback     = errors.New("invalid payment callback")
	ErrOrderNotPayable     = errors.New("order is not awaiting payment")
)
