package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/larriantoniy/device_gateway/internal/storage"
	"github.com/larriantoniy/device_gateway/internal/useCases"
)

type deviceStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type healthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Devices     []deviceStatus `json:"devices"`
}

func newMux(reg *prometheus.Registry, feed http.Handler, manager *useCases.Manager, gateway *storage.Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/ws/status", feed)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Connections: gateway.Connection.Len()}
		for _, id := range manager.Running() {
			resp.Devices = append(resp.Devices, deviceStatus{ID: id, State: manager.State(id).String()})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}
