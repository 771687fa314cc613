package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/urfave/cli"
)

var out io.Writer = os.Stdout

func status(ctx *cli.Context) error {
	var res sharedCommon.StatusResult
	if err := callDaemon(sharedCommon.MethodStatus, nil, &res); err != nil {
		common.PrintRuntimeErr(ctx, "status", "call", rpcMessage(err))
		return nil
	}
	printStatus(out, &res, time.Now())
	return nil
}

func printStatus(w io.Writer, res *sharedCommon.StatusResult, now time.Time) {
	state := "stopped"
	if res.Running {
		state = "running"
	}
	fmt.Fprintf(w, "Scheduler:  %s\n", state)
	times := "none"
	if len(res.PostTimes) > 0 {
		times = strings.Join(res.PostTimes, ", ")
	}
	fmt.Fprintf(w, "Post times: %s\n", times)
	fmt.Fprintf(w, "Next post:  %s\n", res.NextPost)
	fmt.Fprintf(w, "Queue:      %d folder(s)", res.QueueSize)
	if res.NextFolder != "" {
		fmt.Fprintf(w, ", next up %s", res.NextFolder)
	}
	fmt.Fprintln(w)
	if len(res.InFlight) > 0 {
		fmt.Fprintf(w, "Publishing: %s\n", strings.Join(res.InFlight, ", "))
	}
	fmt.Fprintf(w, "Today:      %d post(s)\n", res.PostsToday)
	if res.LastPost != nil {
		fmt.Fprintf(w, "Last post:  %s (%s)\n", res.LastPost.Folder, relTime(res.LastPost.Timestamp, now))
	}
}

func toggle(ctx *cli.Context) error {
	var res sharedCommon.ToggleResult
	if err := callDaemon(sharedCommon.MethodToggle, nil, &res); err != nil {
		common.PrintRuntimeErr(ctx, "toggle", "call", rpcMessage(err))
		return nil
	}
	fmt.Fprintln(out, res.Message)
	return nil
}

func reset(ctx *cli.Context) error {
	var res sharedCommon.Response
	if err := callDaemon(sharedCommon.MethodReset, nil, &res); err != nil {
		common.PrintRuntimeErr(ctx, "reset", "call", rpcMessage(err))
		return nil
	}
	fmt.Fprintln(out, res.Message)
	return nil
}

func stats(ctx *cli.Context) error {
	var res sharedCommon.StatsResult
	if err := callDaemon(sharedCommon.MethodHistoryStats, nil, &res); err != nil {
		common.PrintRuntimeErr(ctx, "stats", "call", rpcMessage(err))
		return nil
	}
	printStats(out, &res, time.Now())
	return nil
}

func printStats(w io.Writer, res *sharedCommon.StatsResult, now time.Time) {
	fmt.Fprintf(w, "Total posts: %s\n", humanize.Comma(int64(res.TotalPosts)))
	fmt.Fprintf(w, "Today:       %d\n", res.PostsToday)
	fmt.Fprintf(w, "This week:   %d\n", res.PostsThisWeek)
	fmt.Fprintf(w, "Pending:     %d\n", res.Pending)
	fmt.Fprintf(w, "Failures:    %d\n", res.Failures)
	if res.LastPost != nil {
		fmt.Fprintf(w, "Last post:   %s (%s)\n", res.LastPost.Folder, relTime(res.LastPost.Timestamp, now))
	}
}

// relTime renders an RFC 3339 timestamp relative to now, falling back to the
// raw string when it does not parse.
func relTime(ts string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
