package dispatcher

import "errors"

var (
	ErrClosed                = errors.New("dispatcher is closed")
	ErrFrameTooLong          = errors.New("message exceeds max frame length")
	ErrInvalidLength         = errors.New("invalid length")
	ErrBlockNotPending       = errors.New("block peek is not pending")
	ErrSubscriptionLimit     = errors.New("maximum subscriptions reached")
	ErrDuplicateSubscription = errors.New("subscription already exists")
	ErrUnknownSubscription   = errors.New("unknown subscription")
	ErrDuplicateDispatcher   = errors.New("dispatcher already exists")
)
