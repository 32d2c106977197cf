package models

import (
	"fmt"
	"time"
)

// DefaultServerCacheTTL is the server cache lifetime in seconds when the
// server does not report one
const DefaultServerCacheTTL = 21600

// CacheInfo describes the server-side accounts cache
type CacheInfo struct {
	Key            string  `json:"key"`
	Timestamp      *string `json:"timestamp,omitempty"`
	Age            *int64  `json:"age,omitempty"`
	AgeHuman       *string `json:"ageHuman,omitempty"`
	TTL            *int64  `json:"ttl,omitempty"`
	IsExpired      *bool   `json:"isExpired,omitempty"`
	ExpiresIn      *int64  `json:"expiresIn,omitempty"`
	ExpiresInHuman *string `json:"expiresInHuman,omitempty"`
	Size           *int64  `json:"size,omitempty"`
	Message        *string `json:"message,omitempty"`
}

// Exists reports whether the server holds a cache entry
func (c *CacheInfo) Exists() bool {
	return c.Timestamp != nil && *c.Timestamp != ""
}

// Valid reports whether the server cache exists and is known not to have
// expired
func (c *CacheInfo) Valid() bool {
	return c.Exists() && c.IsExpired != nil && !*c.IsExpired
}

// Status returns a short status for display
func (c *CacheInfo) Status() string {
	switch {
	case !c.Exists():
		return "No cache"
	case c.IsExpired == nil:
		return "Unknown"
	case *c.IsExpired:
		return "Expired"
	default:
		return "Valid"
	}
}

// TTLValue returns the reported TTL or the default
func (c *CacheInfo) TTLValue() time.Duration {
	if c.TTL == nil {
		return DefaultServerCacheTTL * time.Second
	}
	return time.Duration(*c.TTL) * time.Second
}

// TTLHuman formats the TTL as "6h 0m"
func (c *CacheInfo) TTLHuman() string {
	ttl := c.TTLValue()
	return fmt.Sprintf("%dh %dm", int(ttl/time.Hour), int((ttl%time.Hour)/time.Minute))
}

// SizeHuman formats the cache size, or returns "" when unknown
func (c *CacheInfo) SizeHuman() string {
	if c.Size == nil {
		return ""
	}
	units := []string{"B", "KB", "MB", "GB"}
	value := float64(*c.Size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}

// HumanDuration formats d with hour and minute granularity
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
}

// CacheOperationResult is returned by the server cache invalidate and
// refresh endpoints
type CacheOperationResult struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	CachePath     *string `json:"cachePath,omitempty"`
	Timestamp     string  `json:"timestamp"`
	AccountsCount *int    `json:"accountsCount,omitempty"`
	UserID        *string `json:"userId,omitempty"`
}
