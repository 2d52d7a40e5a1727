package memory

import "github.com/arbi/kvengine/pkg/kv"

func init() {
	kv.RegisterBackend(kv.BackendMemory, func(cfg kv.Config) (kv.Store, error) {
		return New(cfg.JanitorInterval, WithLogger(cfg.Logger)), nil
	})
}
