package useCases

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

const defaultStartParallel = 4

// Starter то, что Runner умеет запускать и гасить
type Starter interface {
	Start(ctx context.Context, deviceID string) error
	Shutdown()
}

type Runner struct {
	repo     ports.DeviceRepo
	starter  Starter
	log      *slog.Logger
	parallel int
}

func NewRunner(repo ports.DeviceRepo, starter Starter, log *slog.Logger, parallel int) *Runner {
	if parallel <= 0 {
		parallel = defaultStartParallel
	}
	return &Runner{repo: repo, starter: starter, log: log, parallel: parallel}
}

// StartAll поднимает сессии по всем устройствам из реестра и держит их до отмены ctx.
// Ошибка одного устройства не мешает остальным.
func (r *Runner) StartAll(ctx context.Context) error {
	ids, err := r.repo.ListDevices(ctx)
	if err != nil {
		return err
	}

	// без WithContext: его ctx отменяется после Wait, а сессии живут дольше
	var g errgroup.Group
	g.SetLimit(r.parallel)

	started := make(chan string, len(ids))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.starter.Start(ctx, id); err != nil {
				if errors.Is(err, domain.ErrSessionActive) {
					r.log.Debug("device already running", "device", id)
					return nil
				}
				r.log.Error("start device failed", "device", id, "error", err)
				return nil
			}
			r.log.Info("device started", "device", id)
			started <- id
			return nil
		})
	}
	_ = g.Wait()
	close(started)

	r.log.Info("devices started", "started", len(started), "total", len(ids))

	<-ctx.Done()
	r.starter.Shutdown()
	r.log.Info("all devices stopped")
	return nil
}
