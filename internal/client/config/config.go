// Package config holds the settings of the securechat command-line client.
package config

import "github.com/dmitrijs2005/securechat/internal/flagx"

// EnvAccessToken carries the access token issued by the account service.
const EnvAccessToken = "SECURECHAT_TOKEN"

// Config holds runtime settings for the CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the relay gRPC endpoint.
//   - AccessToken: bearer token sent with every call.
//   - KeyFile: where the passphrase-sealed user keypair is kept.
type Config struct {
	ServerEndpointAddr string
	AccessToken        string
	KeyFile            string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.KeyFile = "securechat.key"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	flagx.StringFromEnv(&cfg.AccessToken, EnvAccessToken)
	parseFlags(cfg)
	return cfg
}
