//go:build vips

package main

import (
	"github.com/Skryldev/imageloader/adapters/vips"
	"github.com/Skryldev/imageloader/config"
	"github.com/Skryldev/imageloader/core"
)

func init() {
	backends = append(backends, func(cfg config.Config, reg core.Registry) func() {
		b := vips.NewBackend(vips.BackendConfig{
			DefaultQuality: cfg.DefaultQuality,
			MaxWorkers:     cfg.WorkerCount,
			ChunkSize:      cfg.ChunkSize,
		})
		vips.RegisterVipsBackend(reg, b)
		return b.Shutdown
	})
}
