package config

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// LoadEnv loads a .env file from the working directory into the process
// environment. Variables that are already set win. A missing file is
// reported through an error satisfying os.IsNotExist.
func LoadEnv() error {
	return godotenv.Load()
}

func process(ctx context.Context, target any, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   target,
		Lookuper: lookuper,
	})
}
