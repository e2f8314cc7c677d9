package filters

import "sync"

type bandpassKey struct {
	lowcut     float64
	highcut    float64
	sampleRate float64
	order      int
}

// CoefficientCache memoizes bandpass designs per configuration.
// Safe for concurrent use; callers must treat returned coefficients as read-only.
type CoefficientCache struct {
	mu      sync.RWMutex
	entries map[bandpassKey]*Coefficients
}

// NewCoefficientCache creates an empty cache
func NewCoefficientCache() *CoefficientCache {
	return &CoefficientCache{entries: make(map[bandpassKey]*Coefficients)}
}

// Bandpass returns the cached design for the configuration, computing it on first use.
// Invalid configurations are never cached.
func (cc *CoefficientCache) Bandpass(lowcut, highcut, sampleRate float64, order int) (*Coefficients, error) {
	key := bandpassKey{lowcut: lowcut, highcut: highcut, sampleRate: sampleRate, order: order}

	cc.mu.RLock()
	c, ok := cc.entries[key]
	cc.mu.RUnlock()
	if ok {
		return c, nil
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if c, ok := cc.entries[key]; ok {
		return c, nil
	}

	c, err := DesignBandpass(lowcut, highcut, sampleRate, order)
	if err != nil {
		return nil, err
	}
	cc.entries[key] = c
	return c, nil
}

// Len returns the number of cached designs
func (cc *CoefficientCache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.entries)
}
