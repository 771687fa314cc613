package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/urfave/cli"
)

var (
	frontFolder string
	priorityArg string

	queueFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "front, f",
			Usage:       "move FOLDER to the head of the queue",
			Destination: &frontFolder,
		},
		cli.StringFlag{
			Name:        "priority, p",
			Usage:       "set a folder priority as FOLDER=N (lower goes first)",
			Destination: &priorityArg,
		},
	}
)

var errPriorityFormat = errors.New("expected FOLDER=N")

func queueCmd(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	switch {
	case frontFolder != "":
		var res sharedCommon.Response
		err := callDaemon(sharedCommon.MethodQueueFront, sharedCommon.FolderParams{Folder: frontFolder}, &res)
		if err != nil {
			common.PrintRuntimeErr(ctx, "queue", "move_to_front", rpcMessage(err))
			return nil
		}
		fmt.Fprintln(out, res.Message)
		return nil
	case priorityArg != "":
		params, err := parsePriority(priorityArg)
		if err != nil {
			return common.PrintErrWithCmdHelp(ctx, err)
		}
		var res sharedCommon.Response
		if err := callDaemon(sharedCommon.MethodQueuePriority, params, &res); err != nil {
			common.PrintRuntimeErr(ctx, "queue", "set_priority", rpcMessage(err))
			return nil
		}
		fmt.Fprintln(out, res.Message)
		return nil
	}

	var res sharedCommon.QueueListResult
	if err := callDaemon(sharedCommon.MethodQueueList, nil, &res); err != nil {
		common.PrintRuntimeErr(ctx, "queue", "list", rpcMessage(err))
		return nil
	}
	printQueue(out, &res)
	return nil
}

func parsePriority(arg string) (sharedCommon.PriorityParams, error) {
	name, value, ok := strings.Cut(arg, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return sharedCommon.PriorityParams{}, fmt.Errorf("%w, got %q", errPriorityFormat, arg)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return sharedCommon.PriorityParams{}, fmt.Errorf("%w, got %q", errPriorityFormat, arg)
	}
	return sharedCommon.PriorityParams{Folder: name, Priority: n}, nil
}

func printQueue(w io.Writer, res *sharedCommon.QueueListResult) {
	if len(res.Items) == 0 {
		fmt.Fprintln(w, "slotpost: the queue is empty")
		return
	}
	txt := fmt.Sprintf("%d folder(s) queued:", res.Total)
	txt += "\n\n-----------------------------------------------"
	txt += "\n| Pos |          Folder           | Priority |"
	txt += "\n|-----|---------------------------|----------|"
	for _, it := range res.Items {
		name := it.Folder
		n := len(name)
		switch {
		case n > 25:
			name = name[:22] + "..."
		case n < 25:
			name = common.Beaut(name, 25)
		}
		prio := "-"
		if it.Priority != 0 {
			prio = strconv.Itoa(it.Priority)
		}
		txt += fmt.Sprintf("\n| %s | %s | %s |", common.Beaut(strconv.Itoa(it.Position), 3), name, common.Beaut(prio, 8))
	}
	txt += "\n-----------------------------------------------"
	fmt.Fprintln(w, txt)
}
