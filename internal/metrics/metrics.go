// Package metrics records prometheus metrics about promotion runs.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/simplesurance/promotepr/internal/logfields"
)

const metricNamespace = "promotepr"

const jobName = "promotepr"

const (
	runsMetricName       = "runs_total"
	documentsMetricName  = "changelog_documents_total"
	runDurationName      = "run_duration_seconds"
	lastSuccessName      = "last_success_timestamp_seconds"
	resultLabel          = "result"
	documentStateLabel   = "state"
	repositoryLabel      = "repository"
	documentIncludedVal  = "included"
	documentEmptyDiffVal = "empty"
)

// Result label values of a run.
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultFailed  = "failed"
)

type metricCollector struct {
	runs        *prometheus.CounterVec
	documents   *prometheus.CounterVec
	runDuration *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		runs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      runsMetricName,
				Help:      "count of reconciliation runs by result",
			},
			[]string{repositoryLabel, resultLabel},
		),
		documents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      documentsMetricName,
				Help:      "count of processed changelogs, by if they were included in the pull request body",
			},
			[]string{documentStateLabel},
		),
		runDuration: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      runDurationName,
				Help:      "duration of the last reconciliation run",
			},
			[]string{repositoryLabel},
		),
		lastSuccess: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      lastSuccessName,
				Help:      "unix time of the last successful reconciliation run",
			},
			[]string{repositoryLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	zap.L().Named("metrics").Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

// RunFinished records the result and duration of a reconciliation run.
func RunFinished(repository, result string, duration time.Duration) {
	cnt, err := metrics.runs.GetMetricWith(prometheus.Labels{
		repositoryLabel: repository,
		resultLabel:     result,
	})
	if err != nil {
		metrics.logGetMetricFailed(runsMetricName, err)
		return
	}
	cnt.Inc()

	labels := prometheus.Labels{repositoryLabel: repository}

	d, err := metrics.runDuration.GetMetricWith(labels)
	if err != nil {
		metrics.logGetMetricFailed(runDurationName, err)
		return
	}
	d.Set(duration.Seconds())

	if result == ResultFailed {
		return
	}

	ls, err := metrics.lastSuccess.GetMetricWith(labels)
	if err != nil {
		metrics.logGetMetricFailed(lastSuccessName, err)
		return
	}
	ls.SetToCurrentTime()
}

// DocumentProcessed records if a changelog contributed to the pull request body.
func DocumentProcessed(included bool) {
	state := documentEmptyDiffVal
	if included {
		state = documentIncludedVal
	}

	cnt, err := metrics.documents.GetMetricWith(prometheus.Labels{documentStateLabel: state})
	if err != nil {
		metrics.logGetMetricFailed(documentsMetricName, err)
		return
	}

	cnt.Inc()
}

// Push sends all registered metrics to a prometheus pushgateway.
func Push(ctx context.Context, url string) error {
	err := push.New(url, jobName).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics to %s failed: %w", url, err)
	}

	return nil
}
