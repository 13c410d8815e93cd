package batch

var (
	ErrDrawTableFull    = &BatchError{"draw call table is full"}
	ErrStaleBinding     = &BatchError{"binding is not live"}
	ErrUnknownAttribute = &BatchError{"unknown attribute"}
)

type BatchError struct {
	Msg string
}

func (e *BatchError) Error() string {
	return e.Msg
}

func (e *BatchError) Is(target error) bool {
	if targetErr, ok := target.(*BatchError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
