package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/device_gateway/internal/domain"
)

const devicesYAML = `
devices:
  - id: dev-1
    name: Sales
    webhooks:
      - url: http://hook.local/orders
        match: "#order"
      - url: http://hook.local/all
  - id: dev-2
    name: Support
`

func TestYAMLDeviceRepo(t *testing.T) {
	path := writeFile(t, "devices.yaml", devicesYAML)
	repo := NewYAMLDeviceRepo(path)
	ctx := context.Background()

	ids, err := repo.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1", "dev-2"}, ids)

	dev, err := repo.FindDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Device{
		ID:          "dev-1",
		DisplayName: "Sales",
		Webhooks: []domain.Webhook{
			{URL: "http://hook.local/orders", Match: "#order"},
			{URL: "http://hook.local/all"},
		},
	}, dev)

	_, err = repo.FindDevice(ctx, "dev-9")
	require.ErrorIs(t, err, domain.ErrDeviceNotFound)
}

func TestYAMLDeviceRepo_Rereads(t *testing.T) {
	path := writeFile(t, "devices.yaml", devicesYAML)
	repo := NewYAMLDeviceRepo(path)

	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - id: dev-3\n    name: New\n"), 0o600))

	ids, err := repo.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-3"}, ids)
}

func TestYAMLDeviceRepo_Broken(t *testing.T) {
	repo := NewYAMLDeviceRepo(writeFile(t, "devices.yaml", "devices: [oops"))
	_, err := repo.FindDevice(context.Background(), "dev-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDeviceNotFound)
}
