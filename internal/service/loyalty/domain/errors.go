package domain

import "errors"

var (
	ErrUserNotFound              = errors.New("user not found")
	ErrPurchaseNotFound          = errors.New("purchase not found")
	ErrBadgeNotFound             = errors.New("badge not found")
	ErrTransactionNotFound       = errors.New("cashback transaction not found")
	ErrInvalidCashbackTransition = errors.New("invalid cashback transaction state transition")
	ErrLockNotAcquired           = errors.New("could not acquire user lock")
)
