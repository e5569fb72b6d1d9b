package config

import "go.uber.org/fx"

// Module отдаёт уже загруженный конфиг: флаги -list/-dry-run читают его до старта fx.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
