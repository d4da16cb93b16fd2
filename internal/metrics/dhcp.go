// Package metrics exposes the server's Prometheus instrumentation: counters
// for inbound requests and outbound replies by DHCP message type, and a
// gauge for free addresses remaining in the pool.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestsByType counts inbound datagrams by their option-53 message type.
var RequestsByType = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dhcp4d_requests_by_type_total",
	Help: "Total number of inbound DHCP datagrams by message type",
}, []string{"message_type"})

// RepliesByType counts outbound replies by their option-53 message type.
var RepliesByType = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dhcp4d_replies_by_type_total",
	Help: "Total number of outbound DHCP replies by message type",
}, []string{"message_type"})

// DroppedDatagrams counts decoded datagrams the dispatcher dropped without
// acting on them: an unknown message type, a REQUEST/DECLINE/RELEASE not
// addressed to this server or without a usable address, a DISCOVER with no
// free address, or a REQUEST whose commit lost a race.  DECLINE and RELEASE
// datagrams that are acted on produce no reply and are not counted.
var DroppedDatagrams = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "dhcp4d_dropped_datagrams_total",
	Help: "Total number of inbound datagrams dropped without being acted on",
})

// FreeAddresses reports the number of unallocated addresses in the pool, as
// of the last sweep.
var FreeAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "dhcp4d_free_addresses",
	Help: "Number of currently unallocated addresses in the lease pool",
})

// Register registers every metric in this package with registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(RequestsByType, RepliesByType, DroppedDatagrams, FreeAddresses)
}

// Recorder implements [dhcp4svc.Metrics] on top of the package-level
// collectors above.
type Recorder struct{}

// IncRequest implements the [dhcp4svc.Metrics] interface for Recorder.
func (Recorder) IncRequest(messageType byte) {
	RequestsByType.WithLabelValues(strconv.Itoa(int(messageType))).Inc()
}

// IncReply implements the [dhcp4svc.Metrics] interface for Recorder.
func (Recorder) IncReply(messageType byte) {
	RepliesByType.WithLabelValues(strconv.Itoa(int(messageType))).Inc()
}

// IncDrop implements the [dhcp4svc.Metrics] interface for Recorder.
func (Recorder) IncDrop() {
	DroppedDatagrams.Inc()
}

// SetFreeAddresses implements the [dhcp4svc.Metrics] interface for Recorder.
func (Recorder) SetFreeAddresses(n int) {
	FreeAddresses.Set(float64(n))
}
