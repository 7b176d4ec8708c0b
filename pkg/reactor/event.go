package reactor

// Event is an ordered multi-listener callback slot. A listener returning
// false removes itself; Unbind during dispatch tombstones the entry and the
// sweep after dispatch reclaims it, so removing a listener from inside its
// own invocation is safe.
type Event[A any] struct {
	nextID    int64
	order     []int64
	callbacks map[int64]func(A) bool
	notifying bool
}

// Bind registers a listener and returns its id.
func (e *Event[A]) Bind(cb func(A) bool) int64 {
	if cb == nil {
		return 0
	}
	if e.callbacks == nil {
		e.callbacks = make(map[int64]func(A) bool)
	}
	e.nextID++
	id := e.nextID
	e.callbacks[id] = cb
	e.order = append(e.order, id)
	return id
}

// Unbind removes the listener with the given id.
func (e *Event[A]) Unbind(id int64) {
	if _, ok := e.callbacks[id]; !ok {
		return
	}
	if e.notifying {
		e.callbacks[id] = nil
		return
	}
	delete(e.callbacks, id)
	e.removeOrder(id)
}

// Clear drops every listener.
func (e *Event[A]) Clear() {
	if e.notifying {
		for id := range e.callbacks {
			e.callbacks[id] = nil
		}
		return
	}
	e.callbacks = nil
	e.order = e.order[:0]
}

// Notify invokes every live listener in bind order.
func (e *Event[A]) Notify(a A) {
	e.notifying = true
	for _, id := range e.order {
		cb := e.callbacks[id]
		if cb == nil {
			continue
		}
		if !cb(a) {
			e.callbacks[id] = nil
		}
	}
	e.notifying = false
	e.sweep()
}

func (e *Event[A]) sweep() {
	kept := e.order[:0]
	for _, id := range e.order {
		if e.callbacks[id] == nil {
			delete(e.callbacks, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept
}

func (e *Event[A]) removeOrder(id int64) {
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}
