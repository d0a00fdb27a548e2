package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

const devicePath = "device"

// DeviceCache read-through кеш устройств перед хранилищем и DeviceFinder.
// Ошибки хранилища считаются промахом; "не найдено" не кешируется.
type DeviceCache struct {
	store  ports.KVStore
	finder ports.DeviceFinder
	log    *slog.Logger

	memo  sync.Map // id -> *domain.Device
	group singleflight.Group
}

func NewDeviceCache(store ports.KVStore, finder ports.DeviceFinder, log *slog.Logger) *DeviceCache {
	return &DeviceCache{store: store, finder: finder, log: log}
}

func deviceKey(id string) string {
	return devicePath + ":" + id
}

// Get возвращает устройство или domain.ErrDeviceNotFound.
// Возвращаемое значение общее для всех вызовов, менять его нельзя.
func (c *DeviceCache) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	if v, ok := c.memo.Load(deviceID); ok {
		return v.(*domain.Device), nil
	}

	v, err, _ := c.group.Do(deviceID, func() (any, error) {
		if v, ok := c.memo.Load(deviceID); ok {
			return v, nil
		}

		if dev, ok := c.load(ctx, deviceID); ok {
			c.memo.Store(deviceID, dev)
			return dev, nil
		}

		dev, err := c.finder.FindDevice(ctx, deviceID)
		if err != nil {
			if errors.Is(err, domain.ErrDeviceNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("find device %s: %w", deviceID, err)
		}
		if dev == nil {
			return nil, domain.ErrDeviceNotFound
		}

		c.memo.Store(deviceID, dev)
		c.save(ctx, deviceID, dev)
		return dev, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Device), nil
}

// Remove выкидывает устройство из кеша, следующий Get спросит DeviceFinder
func (c *DeviceCache) Remove(ctx context.Context, deviceID string) error {
	c.memo.Delete(deviceID)
	if err := c.store.Remove(ctx, deviceKey(deviceID)); err != nil {
		return fmt.Errorf("remove %s: %w", deviceKey(deviceID), err)
	}
	return nil
}

func (c *DeviceCache) load(ctx context.Context, deviceID string) (*domain.Device, bool) {
	raw, err := c.store.Get(ctx, deviceKey(deviceID))
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			c.log.Error("device cache get", "device", deviceID, "error", err)
		}
		return nil, false
	}

	var dev domain.Device
	if err := unmarshal(raw, &dev); err != nil {
		c.log.Error("device cache decode", "device", deviceID, "error", err)
		return nil, false
	}
	return &dev, true
}

func (c *DeviceCache) save(ctx context.Context, deviceID string, dev *domain.Device) {
	raw, err := marshal(dev)
	if err != nil {
		c.log.Error("device cache encode", "device", deviceID, "error", err)
		return
	}
	if err := c.store.Set(ctx, deviceKey(deviceID), raw); err != nil {
		c.log.Error("device cache set", "device", deviceID, "error", err)
	}
}
