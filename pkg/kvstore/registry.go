package kvstore

import (
	"fmt"
	"sync"
)

// handleState tracks a handle's lifecycle. A handle starts in handleOpen
// and moves to handleError after an IO or CORRUPT failure latches it;
// there is no separate closed state because release() removes a handle
// from the registry outright, so a closed id simply stops resolving.
type handleState int

const (
	handleOpen handleState = iota
	handleError
)

// handle is one process-local open database handle. Multiple handles may
// share the same underlying fileState (same path opened twice in one
// process); each handle still owns an independent cache, so writes made
// through one handle aren't visible through another until they're flushed.
type handle struct {
	id    int32
	file  *fileState
	cache *handleCache
	lim   limits
	state handleState
}

// registry is the process-wide, H_max-bounded table of open handles. A
// single registry instance (the package-level reg) backs every exported
// Open/Close/...Key function.
type registry struct {
	mu      sync.Mutex
	handles map[int32]*handle
	files   map[string]*fileState
	next    int32
}

func newRegistry() *registry {
	return &registry{
		handles: make(map[int32]*handle),
		files:   make(map[string]*fileState),
	}
}

var reg = newRegistry()

// acquire opens path (per openOrCreateFile) and installs a new handle,
// rejecting the attempt with ErrNoHandle if the registry is already at
// H_max. Multiple handles on the same path within one process share the
// underlying fileState and its reference count.
func (r *registry) acquire(path string, create bool, lim limits) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.handles) >= lim.maxHandles {
		return 0, ErrNoHandle
	}

	absPath, err := absClean(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", err, ErrBadArg)
	}

	fs, existing := r.files[absPath]
	if !existing {
		newFS, err := openOrCreateFile(path, create, lim)
		if err != nil {
			return 0, err
		}

		fs = newFS
		r.files[absPath] = fs
	}

	fs.refCount++

	r.next++
	id := r.next

	r.handles[id] = &handle{
		id:    id,
		file:  fs,
		cache: newHandleCache(),
		lim:   lim,
		state: handleOpen,
	}

	return id, nil
}

// get returns the handle for id, or ErrNoHandle if it doesn't exist (never
// opened, or already closed).
func (r *registry) get(id int32) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return nil, ErrNoHandle
	}

	return h, nil
}

// release removes id from the registry and decrements its fileState's
// refcount, closing and unmapping the file entirely once the last handle
// on it is gone.
func (r *registry) release(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return ErrNoHandle
	}

	delete(r.handles, id)

	h.file.refCount--
	if h.file.refCount > 0 {
		return nil
	}

	delete(r.files, h.file.absPath)

	return h.file.close()
}

// markError latches a handle into the error state after an IO or CORRUPT
// failure; only Close is permitted on it afterward.
func (r *registry) markError(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[id]; ok {
		h.state = handleError
	}
}

// count reports the number of currently open handles.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.handles)
}
