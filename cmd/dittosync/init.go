package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittosync/pkg/config"
	"github.com/spf13/pflag"
)

var initForce bool

func initFlags(fs *pflag.FlagSet) {
	fs.BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}

func runInit(_ context.Context, fs *pflag.FlagSet, common *commonFlags) error {
	if fs.NArg() > 0 {
		return usageError(fs, "init takes no arguments")
	}

	if common.configPath != "" {
		if err := config.InitConfigToPath(common.configPath, initForce); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", common.configPath)
		return nil
	}

	path, err := config.InitConfig(initForce)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
