package gpubuf

var (
	ErrUnsupportedAttributeType = &BufferError{"unsupported attribute type"}
	ErrTypeMismatch             = &BufferError{"element type mismatch"}
	ErrOutOfRange               = &BufferError{"write out of range"}
	ErrIncompatibleGeometry     = &BufferError{"incompatible geometry"}
)

type BufferError struct {
	Msg string
}

func (e *BufferError) Error() string {
	return e.Msg
}

func (e *BufferError) Is(target error) bool {
	if targetErr, ok := target.(*BufferError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
