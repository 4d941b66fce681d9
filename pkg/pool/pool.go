// Package pool provides object pooling for boutinf to reduce allocations.
//
// Pooled objects:
// - Id slices (cursor mutation targets, scan batches)
// - Byte buffers (snapshot record lines)
// - String slices (extracted words)
//
// Usage:
//
//	ids := pool.GetIDSlice()
//	defer pool.PutIDSlice(ids)
//
//	ids = append(ids, 42)
package pool

import (
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity of slices kept in each pool
	MaxSize int
}

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled: true,
		MaxSize: 4096,
	}
)

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

func current() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return current().Enabled
}

// =============================================================================
// Id Slice Pool
// =============================================================================

var idSlicePool = sync.Pool{
	New: func() any {
		return make([]uint64, 0, 64)
	},
}

// GetIDSlice returns an empty id slice, possibly with spare capacity.
// Call PutIDSlice when done.
func GetIDSlice() []uint64 {
	if !IsEnabled() {
		return make([]uint64, 0, 64)
	}
	return idSlicePool.Get().([]uint64)[:0]
}

// PutIDSlice returns an id slice to the pool.
func PutIDSlice(ids []uint64) {
	cfg := current()
	if !cfg.Enabled || ids == nil {
		return
	}
	// Don't pool very large slices (memory leak prevention)
	if cap(ids) > cfg.MaxSize {
		return
	}
	idSlicePool.Put(ids[:0])
}

// =============================================================================
// Byte Buffer Pool
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// GetByteBuffer returns a byte buffer from the pool.
func GetByteBuffer() []byte {
	if !IsEnabled() {
		return make([]byte, 0, 1024)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool.
func PutByteBuffer(buf []byte) {
	if !IsEnabled() || buf == nil {
		return
	}
	if cap(buf) > 1024*1024 { // Don't pool huge buffers (>1MB)
		return
	}
	byteBufferPool.Put(buf[:0])
}

// =============================================================================
// String Slice Pool
// =============================================================================

var stringSlicePool = sync.Pool{
	New: func() any {
		return make([]string, 0, 16)
	},
}

// GetStringSlice returns a string slice from the pool.
func GetStringSlice() []string {
	if !IsEnabled() {
		return make([]string, 0, 16)
	}
	return stringSlicePool.Get().([]string)[:0]
}

// PutStringSlice returns a string slice to the pool.
func PutStringSlice(s []string) {
	cfg := current()
	if !cfg.Enabled || s == nil {
		return
	}
	if cap(s) > cfg.MaxSize {
		return
	}
	// Clear references
	clear(s)
	stringSlicePool.Put(s[:0])
}
