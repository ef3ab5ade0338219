package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/securechat/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the relay server
//	-k string   key file
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.KeyFile, "k", cfg.KeyFile, "key file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
