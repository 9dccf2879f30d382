package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	second int64
	count  int
}

// MemoryLimiter is a fixed-window limiter local to this process.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	lastSweep int64
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*memoryWindow)}
}

// Allow counts a hit for key in the second containing now.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(sec)
	window := l.windows[key]
	if window == nil || window.second != sec {
		window = &memoryWindow{second: sec}
		l.windows[key] = window
	}
	if window.count >= limit {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	window.count++
	return Result{Allowed: true, Remaining: limit - window.count, Reset: reset}, nil
}

// sweep drops windows older than the current second, at most once per second.
func (l *MemoryLimiter) sweep(sec int64) {
	if l.lastSweep == sec {
		return
	}
	l.lastSweep = sec
	for key, window := range l.windows {
		if window.second < sec {
			delete(l.windows, key)
		}
	}
}
