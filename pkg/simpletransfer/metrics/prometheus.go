package metrics

import (
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// DefaultNamespace prefixes every exported metric.
const DefaultNamespace = "simple_transfer"

// PrometheusObserver exports transfer operation metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *promclient.HistogramVec
	operationErrors   *promclient.CounterVec
	mappingsCreated   promclient.Counter
}

// NewPrometheusObserver registers the operation duration and error metrics.
func NewPrometheusObserver(namespace string, reg promclient.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	observer := &PrometheusObserver{
		operationDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of transfer operations, including failed ones.",
			Buckets:   promclient.DefBuckets,
		}, []string{"operation"}),
		operationErrors: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed transfer operations by error kind.",
		}, []string{"operation", "kind"}),
		mappingsCreated: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "mappings_created_total",
			Help:      "Count of short id mappings persisted.",
		}),
	}

	if err := reg.Register(observer.operationDuration); err != nil {
		are, ok := err.(promclient.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register operation histogram: %w", err)
		}
		existing, ok := are.ExistingCollector.(*promclient.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register operation histogram: %w", err)
		}
		observer.operationDuration = existing
	}
	if err := reg.Register(observer.operationErrors); err != nil {
		are, ok := err.(promclient.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register operation error counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(*promclient.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register operation error counter: %w", err)
		}
		observer.operationErrors = existing
	}
	if err := reg.Register(observer.mappingsCreated); err != nil {
		are, ok := err.(promclient.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register mappings counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(promclient.Counter)
		if !ok {
			return nil, fmt.Errorf("register mappings counter: %w", err)
		}
		observer.mappingsCreated = existing
	}
	return observer, nil
}

// RecordOperation tracks the duration of every operation and counts failures by kind.
func (o *PrometheusObserver) RecordOperation(operation string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues(operation, string(simpletransfer.KindOf(err))).Inc()
	}
}

// Hooks returns lifecycle hooks that count persisted mappings.
func (o *PrometheusObserver) Hooks() *simpletransfer.Hooks {
	return &simpletransfer.Hooks{
		AfterMappingCreate: []simpletransfer.AfterMappingCreateHook{
			func(hctx *simpletransfer.HookContext, record *simpletransfer.MappingRecord) error {
				o.mappingsCreated.Inc()
				return nil
			},
		},
	}
}

var _ simpletransfer.Observer = (*PrometheusObserver)(nil)
