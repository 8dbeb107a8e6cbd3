package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/wpphub/wpphub/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default <data dir>/config.toml)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}
