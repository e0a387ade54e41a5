package access

import (
	"os"
	"sync"
)

// Access hands out scoped grants, one at a time
type Access struct {
	mu      sync.Mutex
	current *Grant
}

// NewAccess creates a grant manager
func NewAccess() *Access {
	return &Access{}
}

// Grant is an open, readable file. Release it exactly once; the next
// Acquire releases it automatically.
type Grant struct {
	owner    *Access
	resource Resource
	file     *os.File
	released bool
}

// Acquire releases any outstanding grant and opens res. A path that has
// vanished yields a notFound *MissingError with nothing held.
func (a *Access) Acquire(res Resource) (*Grant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil {
		a.current.closeLocked()
		a.current = nil
	}

	f, err := os.Open(res.Path)
	if err != nil {
		return nil, classify(res.Path, err)
	}

	g := &Grant{owner: a, resource: res, file: f}
	a.current = g
	return g, nil
}

// ReleaseAll drops the outstanding grant, if any
func (a *Access) ReleaseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil {
		a.current.closeLocked()
		a.current = nil
	}
}

// Held reports whether a grant is outstanding
func (a *Access) Held() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// File returns the open file
func (g *Grant) File() *os.File {
	return g.file
}

// Resource returns the resolved resource
func (g *Grant) Resource() Resource {
	return g.resource
}

// Released reports whether the grant has been released
func (g *Grant) Released() bool {
	g.owner.mu.Lock()
	defer g.owner.mu.Unlock()
	return g.released
}

// Release closes the file and frees the slot
func (g *Grant) Release() {
	g.owner.mu.Lock()
	defer g.owner.mu.Unlock()
	g.closeLocked()
	if g.owner.current == g {
		g.owner.current = nil
	}
}

func (g *Grant) closeLocked() {
	if g.released {
		return
	}
	g.released = true
	g.file.Close()
}
