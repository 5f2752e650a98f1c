/*
Copyright (c) The AWDL-Go Authors.

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

package stats

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter serves the counter set as a /metrics endpoint. It
// registers one gauge per counter name up front, since the set is fixed and
// known at startup, unlike the teacher's dynamically-discovered counter map.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	counters   *Counters
	gauges     map[string]prometheus.Gauge
	listenAddr string
}

// NewPrometheusExporter builds an exporter backed by counters, serving on
// listenAddr (e.g. ":9464").
func NewPrometheusExporter(counters *Counters, listenAddr string) *PrometheusExporter {
	e := &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		counters:   counters,
		gauges:     make(map[string]prometheus.Gauge, len(order)),
		listenAddr: listenAddr,
	}
	for _, name := range order {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "awdl",
			Name:      name,
			Help:      fmt.Sprintf("awdl daemon counter %q", name),
		})
		e.registry.MustRegister(g)
		e.gauges[name] = g
	}
	return e
}

// refresh copies the live counters into the registered gauges. It is called
// on every scrape rather than on a timer, so the exporter never serves a
// stale value between counter updates and a request.
func (e *PrometheusExporter) refresh() {
	snap := e.counters.Snapshot()
	for name, g := range e.gauges {
		g.Set(float64(snap[name]))
	}
}

// Start installs the /metrics handler and blocks serving it. It returns the
// error from http.ListenAndServe, including a failure to bind the listen
// port; it does not exit the process itself.
func (e *PrometheusExporter) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
	// Refresh right before every /metrics scrape too.
	mux.Handle("/metrics/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
	}))

	log.WithField("addr", e.listenAddr).Info("starting prometheus exporter")
	return http.ListenAndServe(e.listenAddr, refreshingHandler{e: e, next: mux})
}

type refreshingHandler struct {
	e    *PrometheusExporter
	next http.Handler
}

func (h refreshingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.e.refresh()
	h.next.ServeHTTP(w, r)
}
