package exchange

import "errors"

var (
	ErrOrderNotFound       = errors.New("exchange: order not found")
	ErrNotMaker            = errors.New("exchange: caller is not the order maker")
	ErrOrderFilled         = errors.New("exchange: order already filled")
	ErrOrderCancelled      = errors.New("exchange: order already cancelled")
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	ErrAssetMismatch       = errors.New("exchange: wrong entry point for asset kind")
	ErrUnknownToken        = errors.New("exchange: token not registered")
	ErrTokenRegistered     = errors.New("exchange: token already registered")
	ErrNilAmount           = errors.New("exchange: nil amount")
	ErrAmountOverflow      = errors.New("exchange: amount overflows 256 bits")
)
