package levcan

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrData            = errors.New("malformed data or invalid arguments")
	ErrObject          = errors.New("no matching object in dictionary")
	ErrBufferFull      = errors.New("buffer or queue full")
	ErrBufferEmpty     = errors.New("nothing to receive")
	ErrNodeOffline     = errors.New("node has not claimed an address yet")
	ErrOutOfMemory     = errors.New("memory allocation failed")
	ErrCollision       = errors.New("a transfer with the same message id, source and target is in progress")
	ErrTimeout         = errors.New("function timeout")
	ErrOutOfRange      = errors.New("value out of range")
	ErrAccess          = errors.New("access denied")
	ErrInit            = errors.New("not initialized")
)
