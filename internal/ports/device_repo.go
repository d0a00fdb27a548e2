package ports

import (
	"context"

	"github.com/larriantoniy/device_gateway/internal/domain"
)

// DeviceFinder возвращает domain.ErrDeviceNotFound, если устройства нет
type DeviceFinder interface {
	FindDevice(ctx context.Context, deviceID string) (*domain.Device, error)
}

type DeviceRepo interface {
	DeviceFinder
	// ListDevices id всех зарегистрированных устройств
	ListDevices(ctx context.Context) ([]string, error)
}
