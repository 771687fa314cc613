package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/urfave/cli"
)

var (
	historyLimit int
	showLedger   bool

	historyFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "limit, n",
			Usage:       "number of entries to show (default: server side)",
			Destination: &historyLimit,
		},
		cli.BoolFlag{
			Name:        "ledger, a",
			Usage:       "show every recorded attempt, failures included",
			Destination: &showLedger,
		},
	}
)

func history(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if historyLimit < 0 {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("limit must not be negative"))
	}
	params := sharedCommon.LimitParams{Limit: historyLimit}
	if showLedger {
		var res sharedCommon.LedgerResult
		if err := callDaemon(sharedCommon.MethodLedgerRecent, params, &res); err != nil {
			common.PrintRuntimeErr(ctx, "history", "ledger", rpcMessage(err))
			return nil
		}
		printLedger(out, res.Rows, time.Now())
		return nil
	}
	var res sharedCommon.HistoryResult
	if err := callDaemon(sharedCommon.MethodHistoryList, params, &res); err != nil {
		common.PrintRuntimeErr(ctx, "history", "list", rpcMessage(err))
		return nil
	}
	printHistory(out, res.Entries, time.Now())
	return nil
}

func printHistory(w io.Writer, entries []sharedCommon.HistoryItem, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "slotpost: nothing has been posted yet")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%-16s %-28s %-9s %2d slide(s)\n", relTime(e.Timestamp, now), e.Folder, e.Type, e.Slides)
	}
}

func printLedger(w io.Writer, rows []sharedCommon.LedgerRow, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "slotpost: the ledger is empty")
		return
	}
	for _, r := range rows {
		outcome := "ok " + r.RemoteID
		if r.Error != "" {
			outcome = "FAILED: " + r.Error
		}
		when := humanize.RelTime(r.PostedAt, now, "ago", "from now")
		fmt.Fprintf(w, "%-16s %-28s %-9s %-9s %s\n", when, r.Folder, r.Trigger, r.Type, outcome)
	}
}
