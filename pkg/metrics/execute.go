/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry collects all ballast metrics. Embedders expose it however
// they serve metrics; the CLI does not start a listener itself.
var Registry = prometheus.NewRegistry()

var (
	// Operation execution metrics
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_operations_total",
		Help: "Total number of executed operations",
	}, []string{"result", "kind", "type"})

	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ballast_operation_duration_seconds",
		Help:    "Duration of executed operations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"kind", "type"})

	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ballast_operation_retries_total",
		Help: "Total number of operation retries after retryable driver errors",
	}, []string{"kind", "type"})

	planOperations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ballast_plan_operations",
		Help: "Operations in the most recently computed plan by kind",
	}, []string{"kind"})

	resourcesManaged = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ballast_resources_managed",
		Help: "Number of resources currently recorded in the state store",
	})
)

func init() {
	Registry.MustRegister(
		operationsTotal,
		operationDuration,
		retriesTotal,
		planOperations,
		resourcesManaged,
	)
}

// RecordOperation records a finished operation
// result: "success" or "failure"
// kind: "create", "update", or "delete"
// resourceType: the resource type acted on (e.g. "BackendService")
func RecordOperation(result, kind, resourceType string, durationSeconds float64) {
	operationsTotal.WithLabelValues(result, kind, resourceType).Inc()
	operationDuration.WithLabelValues(kind, resourceType).Observe(durationSeconds)
}

// RecordRetry counts a retry of an operation after a retryable error
func RecordRetry(kind, resourceType string) {
	retriesTotal.WithLabelValues(kind, resourceType).Inc()
}

// SetPlanOperations sets the gauge for one operation kind of the latest
// plan
func SetPlanOperations(kind string, count int) {
	planOperations.WithLabelValues(kind).Set(float64(count))
}

// SetManagedResources sets the gauge for state-store records
func SetManagedResources(count int) {
	resourcesManaged.Set(float64(count))
}
