package cloud

import "sync"

// Repository is the cloud's VMI storage. spec.md §3 requires at most one VA
// per kind to exist at any time; Repository enforces that by keying objects
// on VA.Kind.
type Repository struct {
	mu            sync.Mutex
	capacityBytes int64
	usedBytes     int64
	objects       map[string]*VA
}

// NewRepository creates an empty repository with the given byte capacity.
func NewRepository(capacityBytes int64) *Repository {
	return &Repository{
		capacityBytes: capacityBytes,
		objects:       make(map[string]*VA),
	}
}

// Lookup returns the VA registered under id, or nil if none is registered.
func (r *Repository) Lookup(id string) *VA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.objects[id]
}

// RegisterObject stores va under va.Kind. It returns false if the
// repository lacks the free capacity to hold it (the caller is expected to
// evict an obsolete VA and retry, per spec.md §4.2). Registering a VA whose
// kind is already present is a no-op that reports success.
func (r *Repository) RegisterObject(va *VA) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[va.Kind]; ok {
		return true
	}
	if r.usedBytes+va.SizeBytes > r.capacityBytes {
		return false
	}
	r.objects[va.Kind] = va
	r.usedBytes += va.SizeBytes
	return true
}

// DeregisterObject removes the VA stored under id, freeing its capacity.
// Deregistering an id that isn't present is a no-op.
func (r *Repository) DeregisterObject(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if va, ok := r.objects[id]; ok {
		delete(r.objects, id)
		r.usedBytes -= va.SizeBytes
	}
}

// UsedBytes returns the repository's current storage occupancy.
func (r *Repository) UsedBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedBytes
}

// Contents returns a snapshot of every VA currently registered.
func (r *Repository) Contents() []*VA {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*VA, 0, len(r.objects))
	for _, va := range r.objects {
		out = append(out, va)
	}
	return out
}
