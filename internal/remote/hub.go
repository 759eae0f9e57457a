package remote

import "sync"

// Hub maps run codes to their devices.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewHub() *Hub {
	return &Hub{devices: make(map[string]*Device)}
}

// Device returns the device for code, creating it on first use.
func (h *Hub) Device(code string) *Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.devices[code]
	if !ok {
		d = NewDevice(code)
		h.devices[code] = d
	}
	return d
}

func (h *Hub) Lookup(code string) (*Device, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.devices[code]
	return d, ok
}

// Remove drops the device for code and disconnects it.
func (h *Hub) Remove(code string) {
	h.mu.Lock()
	d, ok := h.devices[code]
	delete(h.devices, code)
	h.mu.Unlock()
	if ok {
		d.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices)
}
