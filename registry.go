package walter_arm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.viam.com/rdk/logging"
)

// BusConfig identifies a servo bus on a serial port
type BusConfig struct {
	Port     string        `json:"port"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

func (c BusConfig) withDefaults() BusConfig {
	if c.Baudrate == 0 {
		c.Baudrate = 1000000
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	return c
}

type busEntry struct {
	bus      *feetech.Bus
	config   BusConfig
	refCount int64
	mu       sync.RWMutex
}

// BusRegistry shares one servo bus per serial port between its users.
type BusRegistry struct {
	entries map[string]*busEntry // port path -> entry
	mu      sync.RWMutex
	open    func(feetech.BusConfig) (*feetech.Bus, error)
	logger  logging.Logger
}

// NewBusRegistry creates an empty registry
func NewBusRegistry(logger logging.Logger) *BusRegistry {
	return &BusRegistry{
		entries: make(map[string]*busEntry),
		open:    feetech.NewBus,
		logger:  logger,
	}
}

// Acquire returns the shared bus of the port, opening it on first use.
func (r *BusRegistry) Acquire(config BusConfig) (*feetech.Bus, error) {
	config = config.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[config.Port]; exists {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.config != config {
			return nil, fmt.Errorf("conflict: port %s already open with a different config (refCount: %d)",
				config.Port, atomic.LoadInt64(&entry.refCount))
		}
		atomic.AddInt64(&entry.refCount, 1)
		return entry.bus, nil
	}

	bus, err := r.open(feetech.BusConfig{
		Port:     config.Port,
		BaudRate: config.Baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  config.Timeout,
	})
	if err != nil {
		return nil, NewError(ServoCommunicationFailed, config.Port, fmt.Errorf("failed to open servo bus: %w", err))
	}

	r.entries[config.Port] = &busEntry{bus: bus, config: config, refCount: 1}
	if r.logger != nil {
		r.logger.Infof("Opened servo bus on %s at %d baud", config.Port, config.Baudrate)
	}
	return bus, nil
}

// Release drops one reference and closes the bus when none is left.
func (r *BusRegistry) Release(port string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[port]
	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		return
	}
	delete(r.entries, port)
	if entry.bus != nil {
		if err := entry.bus.Close(); err != nil && r.logger != nil {
			r.logger.Warnf("error closing servo bus on %s: %v", port, err)
		}
	}
}

// Status returns the reference count of the port and whether it is open
func (r *BusRegistry) Status(port string) (int64, bool) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return 0, false
	}

	return atomic.LoadInt64(&entry.refCount), true
}
