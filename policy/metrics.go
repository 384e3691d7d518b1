// policy/metrics.go
package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var protectionEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_protection_events_total",
	Help: "Number of room events dispatched to each protection",
}, []string{"protection"})

var protectionActionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_protection_actions_total",
	Help: "Number of enforcement actions issued by protections",
}, []string{"protection", "action"})

var sanctionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_sanctions_total",
	Help: "Number of sanctions applied by reconciliation passes",
}, []string{"action"})

var reconcileErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_reconcile_errors_total",
	Help: "Number of per-room reconciliation failures by kind",
}, []string{"kind"})
