package instanced

var (
	ErrUnknownGeometry = &InstancedError{"unknown geometry"}
	ErrUnknownTexture  = &InstancedError{"unknown texture"}
	ErrStaleBinding    = &InstancedError{"draw call binding is not live"}
)

type InstancedError struct {
	Msg string
}

func (e *InstancedError) Error() string {
	return e.Msg
}

func (e *InstancedError) Is(target error) bool {
	if targetErr, ok := target.(*InstancedError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
