package reactor

import (
	"log"
	"sync"
)

// LinkType identifies a registered link variant: the pipeline composition a
// reactor instantiates on accept or connect.
type LinkType uint64

// linkVariant owns the pool for one registered composition. Allocated links
// carry a deallocator bound to this pool so the reactor can recycle them
// without knowing the variant.
type linkVariant struct {
	name     string
	newStack func() (*ProtocolStack, error)
	pool     sync.Pool
}

var linkFactory = struct {
	mu       sync.Mutex
	nextType LinkType
	types    map[LinkType]*linkVariant
	names    map[string]LinkType
}{
	types: make(map[LinkType]*linkVariant),
	names: make(map[string]LinkType),
}

// RegisterLinkType registers a link variant under a stable name and returns
// its token. Registering the same name twice keeps the first registration.
func RegisterLinkType(name string, newStack func() (*ProtocolStack, error)) LinkType {
	linkFactory.mu.Lock()
	defer linkFactory.mu.Unlock()
	if t, ok := linkFactory.names[name]; ok {
		log.Printf("link type %q already registered", name)
		return t
	}
	linkFactory.nextType++
	t := linkFactory.nextType
	v := &linkVariant{name: name, newStack: newStack}
	v.pool.New = func() any {
		stack, err := v.newStack()
		if err != nil {
			log.Printf("link type %q stack build failed: %v", v.name, err)
			return (*Link)(nil)
		}
		return NewLink(stack)
	}
	linkFactory.types[t] = v
	linkFactory.names[name] = t
	return t
}

// allocLink hands out a pooled link of the given variant, deallocator
// stamped. Returns nil for unknown types or failed stack builds.
func allocLink(t LinkType) *Link {
	linkFactory.mu.Lock()
	v := linkFactory.types[t]
	linkFactory.mu.Unlock()
	if v == nil {
		return nil
	}
	l, _ := v.pool.Get().(*Link)
	if l == nil {
		return nil
	}
	l.deallocator = func(fl *Link) {
		fl.clear()
		v.pool.Put(fl)
	}
	return l
}
