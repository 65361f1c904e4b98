// Package configwatcher 监听配置文件变化并重新加载
package configwatcher

import (
	"context"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/pkg/logger"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounce = time.Second

type Reloader func(cfg *config.Config)

// Watch 阻塞监听 configDir 下的 config.yaml，写入后防抖重新加载，ctx 结束时返回。
// 监听目录而不是文件，编辑器以重命名方式保存时也能收到事件。
func Watch(ctx context.Context, configDir string, reload Reloader) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return err
	}
	if err := watcher.Add(absDir); err != nil {
		return fmt.Errorf("watch %s: %w", absDir, err)
	}
	target := filepath.Join(absDir, "config.yaml")

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fire = time.After(debounce)
			}
		case <-fire:
			fire = nil
			cfg, err := config.LoadConfig(configDir)
			if err != nil {
				logger.Log.Error("Failed to reload config", zap.Error(err))
				continue
			}
			logger.Log.Info("config reloaded", zap.String("path", target))
			reload(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Log.Error("Config watcher error", zap.Error(err))
		}
	}
}
