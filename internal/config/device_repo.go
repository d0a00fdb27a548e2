package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/larriantoniy/device_gateway/internal/domain"
)

type devicesFile struct {
	Devices []domain.Device `yaml:"devices"`
}

// YAMLDeviceRepo реестр устройств из YAML-файла.
// Файл перечитывается на каждый вызов, правки подхватываются без рестарта.
type YAMLDeviceRepo struct {
	path string
}

func NewYAMLDeviceRepo(path string) *YAMLDeviceRepo {
	return &YAMLDeviceRepo{path: path}
}

func (r *YAMLDeviceRepo) load() ([]domain.Device, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	var f devicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", r.path, err)
	}
	return f.Devices, nil
}

func (r *YAMLDeviceRepo) ListDevices(_ context.Context) ([]string, error) {
	devices, err := r.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.ID != "" {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

func (r *YAMLDeviceRepo) FindDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	devices, err := r.load()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID == deviceID {
			d := devices[i]
			return &d, nil
		}
	}
	return nil, domain.ErrDeviceNotFound
}
