package storage

import (
	"context"
	"log/slog"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

// Hooks колбэки встраивающего приложения; любой может быть nil
type Hooks struct {
	OnStateChange func(ctx context.Context, deviceID string, update ports.ConnectionUpdate) error
	OnConnected   func(ctx context.Context, deviceID string, profile domain.Profile) error
	// OnAlert соединение упало и об этом надо сообщить
	OnAlert func(ctx context.Context, deviceID string, verdict domain.Verdict, cause error)
}

// Gateway кеш устройств, реестр соединений и проброс событий наружу
type Gateway struct {
	Device     *DeviceCache
	Connection *ConnectionRegistry

	hooks Hooks
	log   *slog.Logger
}

func NewGateway(store ports.KVStore, finder ports.DeviceFinder, hooks Hooks, log *slog.Logger) *Gateway {
	return &Gateway{
		Device:     NewDeviceCache(store, finder, log),
		Connection: NewConnectionRegistry(),
		hooks:      hooks,
		log:        log,
	}
}

func (g *Gateway) OnStateChange(ctx context.Context, deviceID string, update ports.ConnectionUpdate) {
	if g.hooks.OnStateChange == nil {
		return
	}
	if err := g.hooks.OnStateChange(ctx, deviceID, update); err != nil {
		g.log.Warn("OnStateChange hook", "device", deviceID, "error", err)
	}
}

func (g *Gateway) OnConnected(ctx context.Context, deviceID string, profile domain.Profile) {
	if g.hooks.OnConnected == nil {
		return
	}
	if err := g.hooks.OnConnected(ctx, deviceID, profile); err != nil {
		g.log.Warn("OnConnected hook", "device", deviceID, "error", err)
	}
}

func (g *Gateway) Alert(ctx context.Context, deviceID string, verdict domain.Verdict, cause error) {
	if g.hooks.OnAlert == nil {
		return
	}
	g.hooks.OnAlert(ctx, deviceID, verdict, cause)
}
