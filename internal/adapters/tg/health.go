package tg

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	probeTimeout      = 3 * time.Second
	proxyProbeTimeout = 5 * time.Second
)

func dialProbe(network, addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// probeNetwork пишет в лог, что доступно: IPv4, IPv6 и прокси.
// Ничего не блокирует, только диагностика перед подключением.
func probeNetwork(logger *slog.Logger, proxy *Proxy) {
	if err := dialProbe("tcp4", "8.8.8.8:53", probeTimeout); err != nil {
		logger.Warn("IPv4 seems not working", "error", err)
	} else {
		logger.Debug("IPv4 OK")
	}

	if err := dialProbe("tcp6", "[2606:4700:4700::1111]:53", probeTimeout); err != nil {
		logger.Warn("IPv6 seems not working", "error", err)
	} else {
		logger.Debug("IPv6 OK")
	}

	if proxy == nil {
		return
	}
	addr := net.JoinHostPort(proxy.Server, strconv.Itoa(int(proxy.Port)))

	// для hostname сначала IPv6, потом IPv4; литерал сам выбирает сеть
	networks := []string{"tcp6", "tcp4"}
	if ip := net.ParseIP(proxy.Server); ip != nil {
		networks = []string{"tcp4"}
		if ip.To4() == nil {
			networks = []string{"tcp6"}
		}
	}

	for _, network := range networks {
		if err := dialProbe(network, addr, proxyProbeTimeout); err != nil {
			logger.Warn("proxy unreachable", "addr", addr, "network", network, "error", err)
			continue
		}
		logger.Info("proxy reachable", "addr", addr, "network", network)
		return
	}
	logger.Error("proxy unreachable on every network", "addr", addr)
}
