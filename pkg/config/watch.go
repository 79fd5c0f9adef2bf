package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"retrocms/pkg/performance"
)

// ReloadDelay is the quiet period after the last file event before reloading
const ReloadDelay = 250 * time.Millisecond

// Watch reloads the configuration whenever its file changes and hands every
// valid result to onChange. Editors write files in bursts, so events are
// debounced. Invalid edits are logged and skipped. Watching stops with ctx.
func (l *Loader) Watch(ctx context.Context, logger *zap.Logger, onChange func(*Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("config")
	if l.File() == "" {
		logger.Debug("no configuration file, hot reload disabled")
		return
	}

	debouncer := performance.NewDebouncer(ReloadDelay)
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("configuration file changed", zap.String("file", e.Name), zap.Stringer("op", e.Op))
		debouncer.Debounce("reload", func() {
			cfg, err := l.Config()
			if err != nil {
				logger.Warn("ignoring invalid configuration", zap.Error(err))
				return
			}
			logger.Info("configuration reloaded", zap.String("file", l.File()))
			onChange(cfg)
		})
	})
	l.v.WatchConfig()
	context.AfterFunc(ctx, debouncer.Stop)
}
