package config

import "github.com/dmitrijs2005/securechat/internal/flagx"

// parseEnv overlays secrets from the environment.
func parseEnv(config *Config) {
	flagx.StringFromEnv(&config.StoragePassphrase, EnvStoragePassphrase)
	flagx.StringFromEnv(&config.IVSecret, EnvIVSecret)
	flagx.StringFromEnv(&config.KeyGenPassphrase, EnvKeyGenPassphrase)
	flagx.StringFromEnv(&config.SecretKey, EnvJWTSecret)
}
