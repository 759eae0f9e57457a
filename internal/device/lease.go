package device

import "sync"

// Lease grants exclusive use of the audio device to one owner at a time.
// The holder may take the lease again; it is freed once every Acquire has
// been matched by a Release.
type Lease struct {
	mu     sync.Mutex
	holder string
	count  int
}

func (l *Lease) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count > 0 && l.holder != owner {
		return ErrDeviceBusy
	}
	l.holder = owner
	l.count++
	return nil
}

func (l *Lease) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 || l.holder != owner {
		return
	}
	l.count--
	if l.count == 0 {
		l.holder = ""
	}
}

// Holder returns the current owner, or "" when free.
func (l *Lease) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}
