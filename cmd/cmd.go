package cmd

import (
	"fmt"
	"runtime"

	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/urfave/cli"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var currentBuildArgs BuildArgs

var (
	configPath string

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the TOML config file",
			EnvVar:      sharedCommon.ConfigPathEnv,
			Destination: &configPath,
		},
	}
)

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "slotpost",
		HelpName:              "slotpost",
		Usage:                 "Publish content folders at fixed times of day.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "slotpost <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "daemon",
				Usage:              "run the scheduler and the admin server",
				Description:        DaemonDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             runDaemon,
			},
			{
				Name:               "status",
				Aliases:            []string{"s"},
				Usage:              "show scheduler state and the next slot",
				Description:        StatusDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             status,
			},
			{
				Name:                   "queue",
				Aliases:                []string{"q"},
				Usage:                  "list the queue or reorder it",
				Description:            QueueDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				UseShortOptionHandling: true,
				Flags:                  queueFlags,
				Action:                 queueCmd,
			},
			{
				Name:               "post",
				Aliases:            []string{"p"},
				Usage:              "publish the next folder, or a named one, right now",
				ArgsUsage:          "[folder]",
				Description:        PostDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             postNow,
			},
			{
				Name:               "times",
				Aliases:            []string{"t"},
				Usage:              "show or replace the daily post times",
				ArgsUsage:          "[HH:MM ...]",
				Description:        TimesDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             times,
			},
			{
				Name:               "toggle",
				Usage:              "start or stop the scheduler",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             toggle,
			},
			{
				Name:               "reset",
				Usage:              "reset scheduler state (history is kept)",
				Description:        ResetDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             reset,
			},
			{
				Name:                   "history",
				Aliases:                []string{"l"},
				Usage:                  "list recent posts",
				Description:            HistoryDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				UseShortOptionHandling: true,
				Flags:                  historyFlags,
				Action:                 history,
			},
			{
				Name:               "stats",
				Usage:              "show posting statistics",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             stats,
			},
			{
				Name:                   "sync",
				Usage:                  "pull new folders from the remote store",
				Description:            SyncDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				UseShortOptionHandling: true,
				Flags:                  syncFlags,
				Action:                 syncCmd,
			},
			{
				Name:               "cleanup",
				Usage:              "delete archived folders older than N days",
				Description:        CleanupDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Flags:              cleanupFlags,
				Action:             cleanup,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of slotpost",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
