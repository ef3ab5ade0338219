package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/securechat/internal/flagx"
)

// JsonConfig is the on-disk shape of the configuration file. Only fields
// present in the file (non-zero after unmarshalling) override the current
// values.
type JsonConfig struct {
	EndpointAddrGRPC  string  `json:"endpoint_addr_grpc"`
	MetricsAddr       string  `json:"metrics_addr"`
	DatabaseDSN       string  `json:"database_dsn"`
	SecretKey         string  `json:"secret_key"`
	StoragePassphrase string  `json:"storage_passphrase"`
	IVSecret          string  `json:"iv_secret"`
	KeyGenPassphrase  string  `json:"keygen_passphrase"`
	ServerKeyFile     string  `json:"server_key_file"`
	FanoutConcurrency int     `json:"fanout_concurrency"`
	SendRatePerSecond float64 `json:"send_rate_per_second"`
	SendBurst         int     `json:"send_burst"`
	S3RootUser        string  `json:"s3_root_user"`
	S3RootPassword    string  `json:"s3_root_password"`
	S3Bucket          string  `json:"s3_bucket"`
	S3Region          string  `json:"s3_region"`
	S3BaseEndpoint    string  `json:"s3_base_endpoint"`
	LogLevel          string  `json:"log_level"`
}

// parseJson loads the file named by -c/-config, if any, into config.
// An unreadable or invalid file panics: the server cannot run on a config
// it failed to read.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.StoragePassphrase, c.StoragePassphrase)
	setString(&config.IVSecret, c.IVSecret)
	setString(&config.KeyGenPassphrase, c.KeyGenPassphrase)
	setString(&config.ServerKeyFile, c.ServerKeyFile)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)

	if c.FanoutConcurrency > 0 {
		config.FanoutConcurrency = c.FanoutConcurrency
	}
	if c.SendRatePerSecond > 0 {
		config.SendRatePerSecond = c.SendRatePerSecond
	}
	if c.SendBurst > 0 {
		config.SendBurst = c.SendBurst
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
