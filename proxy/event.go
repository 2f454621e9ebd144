package proxy

import (
	"encoding/hex"
	"time"
)

type Kind string

const (
	KindEDIDOffset      Kind = "edid-offset"
	KindEDIDPlaceholder Kind = "edid-placeholder"
	KindEDIDServed      Kind = "edid-served"
	KindEDIDCached      Kind = "edid-cached"
	KindRequest         Kind = "ddcci-request"
	KindReply           Kind = "ddcci-reply"
	KindCacheHit        Kind = "capability-cache-hit"
	KindIgnored         Kind = "ignored"
	KindError           Kind = "error"
)

// Event describes one thing the proxy did on either bus.
type Event struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	Addr  byte      `json:"addr"`
	Bytes int       `json:"bytes,omitempty"`
	Data  string    `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Observer receives proxy events. Observe is called from the proxy loop and
// must not block.
type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

// Stats counts what the proxy handled since it started.
type Stats struct {
	EDIDRequests     int `yaml:"edid_requests" json:"edid_requests"`
	PlaceholderSent  int `yaml:"placeholder_sent" json:"placeholder_sent"`
	MonitorReads     int `yaml:"monitor_reads" json:"monitor_reads"`
	MonitorFailures  int `yaml:"monitor_failures" json:"monitor_failures"`
	Requests         int `yaml:"ddcci_requests" json:"ddcci_requests"`
	InvalidRequests  int `yaml:"invalid_requests" json:"invalid_requests"`
	CacheHits        int `yaml:"capability_cache_hits" json:"capability_cache_hits"`
	Forwarded        int `yaml:"forwarded" json:"forwarded"`
	ForwardFailures  int `yaml:"forward_failures" json:"forward_failures"`
	RepliesSent      int `yaml:"replies_sent" json:"replies_sent"`
	IgnoredAddresses int `yaml:"ignored_addresses" json:"ignored_addresses"`
	Stretched        int `yaml:"clock_stretched" json:"clock_stretched"`
}

func hexData(b []byte) string {
	return hex.EncodeToString(b)
}
