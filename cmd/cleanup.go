package cmd

import (
	"fmt"

	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/urfave/cli"
)

var (
	cleanupDays int

	cleanupFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "days, d",
			Usage:       "remove archived folders older than this many days",
			Value:       sharedCommon.DefaultCleanupDays,
			Destination: &cleanupDays,
		},
	}
)

func cleanup(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if cleanupDays < 0 {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("days must not be negative"))
	}
	var res sharedCommon.CleanupResult
	err := callDaemon(sharedCommon.MethodContentCleanup, sharedCommon.CleanupParams{Days: cleanupDays}, &res)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cleanup", "call", rpcMessage(err))
		return nil
	}
	fmt.Fprintln(out, res.Message)
	return nil
}
