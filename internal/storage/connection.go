package storage

import (
	"sync"

	"github.com/larriantoniy/device_gateway/internal/ports"
)

// ConnectionRegistry живые соединения по id устройства
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]ports.Connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]ports.Connection)}
}

func (r *ConnectionRegistry) Get(deviceID string) (ports.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[deviceID]
	return c, ok
}

// Set перезаписывает прежнее соединение, не закрывая его
func (r *ConnectionRegistry) Set(deviceID string, conn ports.Connection) {
	r.Swap(deviceID, conn)
}

// Swap как Set, но возвращает вытесненное соединение
func (r *ConnectionRegistry) Swap(deviceID string, conn ports.Connection) ports.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[deviceID]
	r.conns[deviceID] = conn
	return prev
}

func (r *ConnectionRegistry) Remove(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, deviceID)
}

// CompareAndRemove удаляет запись, только если там всё ещё conn
func (r *ConnectionRegistry) CompareAndRemove(deviceID string, conn ports.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[deviceID]; ok && cur == conn {
		delete(r.conns, deviceID)
		return true
	}
	return false
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
