package packet

import "sync"

// SharedBlob is a blob referenced from several components. Mutation requires
// the exclusive lock, inspection the shared one.
type SharedBlob struct {
	mu   sync.RWMutex
	blob *Blob
}

// NewSharedBlob wraps b; a nil blob becomes an empty placeholder
func NewSharedBlob(b *Blob) *SharedBlob {
	if b == nil {
		b = &Blob{}
	}
	return &SharedBlob{blob: b}
}

// ShareAll wraps every blob in its own handle
func ShareAll(blobs []*Blob) []*SharedBlob {
	shared := make([]*SharedBlob, len(blobs))
	for i, b := range blobs {
		shared[i] = NewSharedBlob(b)
	}
	return shared
}

// Read runs fn holding the shared lock
func (s *SharedBlob) Read(fn func(b *Blob)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.blob)
}

// Write runs fn holding the exclusive lock
func (s *SharedBlob) Write(fn func(b *Blob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.blob)
}

// Lock takes the exclusive lock and checks the blob out until Unlock
func (s *SharedBlob) Lock() *Blob {
	s.mu.Lock()
	return s.blob
}

func (s *SharedBlob) Unlock() {
	s.mu.Unlock()
}

// Snapshot returns a deep copy taken under the shared lock
func (s *SharedBlob) Snapshot() *Blob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blob.Clone()
}
