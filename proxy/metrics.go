package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cerberus_clients",
		Help: "Currently connected client sessions.",
	})
	acceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_accepted_total",
		Help: "Client connections accepted since start.",
	})
	commandsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_commands_total",
		Help: "Commands relayed to the cluster.",
	})
	redirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cerberus_redirects_total",
		Help: "MOVED and ASK redirections followed.",
	}, []string{"kind"})
	commandRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_command_retries_total",
		Help: "Commands routed again after redirection or backend loss.",
	})
	slotReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_slot_reloads_total",
		Help: "Successful slot map refreshes.",
	})
	backendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_backend_failures_total",
		Help: "Backend connections lost outside topology refreshes.",
	})
)
