package cmd

import (
	"fmt"
	"strings"

	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/urfave/cli"
)

func postNow(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if ctx.NArg() > 1 {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("expected at most one folder, got %d", ctx.NArg()))
	}
	var res sharedCommon.PostResult
	params := sharedCommon.FolderParams{Folder: strings.TrimSpace(ctx.Args().First())}
	if err := callDaemonWithin(POST_TIMEOUT, sharedCommon.MethodPostNow, params, &res); err != nil {
		common.PrintRuntimeErr(ctx, "post", "post_now", rpcMessage(err))
		return nil
	}
	fmt.Fprintln(out, res.Message)
	if res.Entry != nil {
		fmt.Fprintf(out, "%s: %s, %d slide(s)\n", res.Entry.Folder, res.Entry.Type, res.Entry.Slides)
	}
	return nil
}

func times(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	var res sharedCommon.TimesResult
	if ctx.NArg() == 0 {
		if err := callDaemon(sharedCommon.MethodTimesGet, nil, &res); err != nil {
			common.PrintRuntimeErr(ctx, "times", "get", rpcMessage(err))
			return nil
		}
	} else {
		params := sharedCommon.TimesParams{Times: splitTimes(ctx.Args())}
		if err := callDaemon(sharedCommon.MethodTimesUpdate, params, &res); err != nil {
			common.PrintRuntimeErr(ctx, "times", "update", rpcMessage(err))
			return nil
		}
	}
	list := "none"
	if len(res.Times) > 0 {
		list = strings.Join(res.Times, ", ")
	}
	fmt.Fprintf(out, "Post times: %s\nNext post:  %s\n", list, res.NextPost)
	return nil
}

// splitTimes accepts "09:00 15:00" as well as "09:00,15:00".
func splitTimes(args []string) []string {
	var list []string
	for _, a := range args {
		for _, t := range strings.Split(a, ",") {
			if t = strings.TrimSpace(t); t != "" {
				list = append(list, t)
			}
		}
	}
	return list
}
