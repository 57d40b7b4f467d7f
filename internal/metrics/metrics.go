// ///////////////////////////////////////////////////////////////////////////
//
// # RECON - Migration Data Reconciliation
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package metrics

import (
	"net/http"
	"time"

	"github.com/pgedge/recon/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recon"

// Registry holds every recon collector. It is separate from the default
// registry so tests can gather it without global side effects.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	TablesValidated = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tables_validated_total",
		Help:      "Tables that reached a terminal state, by status.",
	}, []string{"status"})

	TableDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "table_validation_seconds",
		Help:      "Wall time of a single table job.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"status"})

	RecordsValidated = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_validated_total",
		Help:      "Sampled rows compared between source and target.",
	})

	RecordsWithDifferences = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_with_differences_total",
		Help:      "Sampled rows with at least one column difference.",
	})

	Runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Validation runs, by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

func ObserveTable(s types.TableSummary, elapsed time.Duration) {
	status := string(s.Status)
	TablesValidated.WithLabelValues(status).Inc()
	TableDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	RecordsValidated.Add(float64(s.RecordsValidated))
	RecordsWithDifferences.Add(float64(s.RecordsWithDifferences))
}

func ObserveRun(err error) {
	if err != nil {
		Runs.WithLabelValues("failed").Inc()
		return
	}
	Runs.WithLabelValues("completed").Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
