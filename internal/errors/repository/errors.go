package repository

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
	ErrTradeAlreadyExists = errors.New("trade already exists")
	ErrFundNotFound       = errors.New("fund not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrTxDone             = errors.New("transaction already finished")
)
