// Package constants holds application-wide defaults for the tstore client.
package constants

import (
	"time"
)

// Application identity
const (
	// AppName is used for config/log directories and notification titles
	AppName = "tstore"

	// ClientConfigFile is the client preferences file inside the config directory
	ClientConfigFile = "client.ini"

	// LogFileName is the rotating log file inside the log directory
	LogFileName = "client.log"
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// 1000 events is generous for progress bursts from several transfers
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Editing
const (
	// DescriptionAutosaveDelay - idle period before a description edit is committed (60 seconds)
	DescriptionAutosaveDelay = 60 * time.Second
)

// Registry
const (
	// RefreshCoalesceWindow - invalidations arriving within this window share one refetch
	RefreshCoalesceWindow = 25 * time.Millisecond

	// RefreshTimeout - upper bound for a single metadata fetch triggered by invalidation
	RefreshTimeout = 30 * time.Second
)

// Backend transport
const (
	// DialTimeout - timeout for connecting to the backend socket (5 seconds)
	DialTimeout = 5 * time.Second

	// RequestTimeout - default deadline for short request/response calls (30 seconds)
	// Transfers (upload, download, offload, delete) are not bounded by it.
	RequestTimeout = 30 * time.Second
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar refresh (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// NotificationHistory - maximum number of notifications retained for display
	NotificationHistory = 100
)
