// Package main is a module with a limb component for the pedal automation rig.
package main

import (
	"context"

	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/utils"

	"pedalbot/limb"
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("pedalbot"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	module, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	err = module.AddModelFromRegistry(ctx, generic.API, limb.Model)
	if err != nil {
		return err
	}

	err = module.Start(ctx)
	defer module.Close(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
