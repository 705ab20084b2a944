// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package mockbridge

import "github.com/prometheus/client_golang/prometheus"

// bridgeMetrics record bridge activity counters.
type bridgeMetrics struct {
	messagesRecv     prometheus.Counter
	messagesSent     prometheus.Counter
	messagesDropped  prometheus.Counter
	requestsIn       prometheus.Counter // requests received by a controller
	dispatchFaults   prometheus.Counter // requests whose dispatch failed
	codecErrors      prometheus.Counter
	requestsActive   prometheus.Gauge   // controller
	requestsOut      prometheus.Counter // requests sent by a resolver
	requestsFallback prometheus.Counter // resolves settled with no response
	requestsTimedOut prometheus.Counter
	requestsPending  prometheus.Gauge // resolver
	connections      prometheus.Gauge // controller connections being served

	reg *prometheus.Registry
}

var stats = newBridgeMetrics()

func newBridgeMetrics() *bridgeMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: "mockbridge", Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "mockbridge", Name: name, Help: help})
	}
	bm := &bridgeMetrics{
		messagesRecv:     counter("messages_received_total", "Messages received from a channel."),
		messagesSent:     counter("messages_sent_total", "Messages sent to a channel."),
		messagesDropped:  counter("messages_dropped_total", "Messages received and discarded."),
		requestsIn:       counter("requests_in_total", "Requests received by a controller."),
		dispatchFaults:   counter("dispatch_faults_total", "Requests whose dispatch failed."),
		codecErrors:      counter("codec_errors_total", "Requests or responses that could not be converted."),
		requestsActive:   gauge("requests_active", "Requests currently being dispatched."),
		requestsOut:      counter("requests_out_total", "Requests sent by a resolver."),
		requestsFallback: counter("requests_fallback_total", "Resolves that ended with no response."),
		requestsTimedOut: counter("requests_timed_out_total", "Resolves that timed out waiting for a response."),
		requestsPending:  gauge("requests_pending", "Requests awaiting a response."),
		connections:      gauge("connections", "Channels currently served by a controller."),
		reg:              prometheus.NewRegistry(),
	}
	bm.reg.MustRegister(
		bm.messagesRecv, bm.messagesSent, bm.messagesDropped,
		bm.requestsIn, bm.dispatchFaults, bm.codecErrors, bm.requestsActive,
		bm.requestsOut, bm.requestsFallback, bm.requestsTimedOut, bm.requestsPending,
		bm.connections,
	)
	return bm
}

// Metrics returns the registry holding the metrics shared by all controllers
// and resolvers in the process. It is safe for the caller to register
// additional collectors with it.
func Metrics() *prometheus.Registry { return stats.reg }
