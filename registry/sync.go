package registry

import (
	"context"

	"go.uber.org/zap"
)

// Sync pushes the current server list into m, then every snapshot emitted by
// reg.Watch, until ctx is done or the watch channel closes.
func Sync(ctx context.Context, reg Registry, m Membership, log *zap.Logger) error {
	if log == nil {
		log = zap.L().Named("registry")
	}

	servers, err := reg.Discover(ctx)
	if err != nil {
		return err
	}
	m.ReplaceServers(servers)
	log.Info("membership loaded", zap.Int("servers", len(servers)))

	updates := reg.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case servers, ok := <-updates:
			if !ok {
				return nil
			}
			m.ReplaceServers(servers)
			log.Debug("membership updated", zap.Int("servers", len(servers)))
		}
	}
}
