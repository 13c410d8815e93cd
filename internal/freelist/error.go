package freelist

var (
	ErrInvalidAllocSize   = &AllocError{"alloc size must be > 0"}
	ErrOutOfMemory        = &AllocError{"out of memory"}
	ErrInvalidFree        = &AllocError{"invalid free"}
	ErrAllocationTooLarge = &AllocError{"allocation exceeds slot capacity"}
)

type AllocError struct {
	Msg string
}

func (e *AllocError) Error() string {
	return e.Msg
}

func (e *AllocError) Is(target error) bool {
	if targetErr, ok := target.(*AllocError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
