package main

import (
	"context"
	"os"

	"github.com/compose-farm/compose-farm/pkg/cli"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg := cli.NewConfig()
	cfg.Version = version
	os.Exit(cli.NewCLI(cfg).Run(context.Background(), os.Args[1:]))
}
