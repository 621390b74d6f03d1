package models

type ResultStatus uint8

const (
	StatusResultUnspecified ResultStatus = iota
	StatusSuccess
	StatusFilledResult
	StatusPartialFill
	StatusPlacedOnBook
	StatusNoLiquidity
	StatusAlreadyClosed
	StatusInvalidParameters
	StatusNotAuthenticated
	StatusNotAuthorized
	StatusRateLimited
	StatusOperationFailed
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFilledResult:
		return "filled"
	case StatusPartialFill:
		return "partial_fill"
	case StatusPlacedOnBook:
		return "placed_on_book"
	case StatusNoLiquidity:
		return "no_liquidity"
	case StatusAlreadyClosed:
		return "already_closed"
	case StatusInvalidParameters:
		return "invalid_parameters"
	case StatusNotAuthenticated:
		return "not_authenticated"
	case StatusNotAuthorized:
		return "not_authorized"
	case StatusRateLimited:
		return "rate_limited"
	case StatusOperationFailed:
		return "operation_failed"
	default:
		return "unspecified"
	}
}

// Result is the tagged outcome of every public engine operation. Engine
// operations never return domain failures as errors; they report them here.
type Result struct {
	Status  ResultStatus
	Order   Order
	Fills   []Trade
	Message string
}

func (r Result) OK() bool {
	switch r.Status {
	case StatusSuccess, StatusFilledResult, StatusPartialFill, StatusPlacedOnBook:
		return true
	default:
		return false
	}
}
