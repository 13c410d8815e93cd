package render

// pool recycles draw spec buffers between frames so steady-state frames do
// not allocate. Items beyond size are dropped.
type pool[T any] struct {
	new   func() T
	reset func(T)
	items chan T
}

func newPool[T any](new func() T, reset func(T), size int) *pool[T] {
	return &pool[T]{
		new:   new,
		reset: reset,
		items: make(chan T, size),
	}
}

func (p *pool[T]) get() T {
	select {
	case item := <-p.items:
		return item
	default:
		return p.new()
	}
}

func (p *pool[T]) put(item T) {
	if p.reset != nil {
		p.reset(item)
	}
	select {
	case p.items <- item:
	default:
	}
}
