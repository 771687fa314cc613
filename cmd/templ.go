package cmd

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}{{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

const DESCRIPTION = `
slotpost watches a directory of content folders and publishes one of
them at each configured time of day. Folders hold images and an
optional caption.txt; published folders are moved under posted/.
`

const (
	DaemonDescription = `The daemon command runs the scheduler, the remote sync and
keep-alive jobs, and the admin JSON-RPC server. Every other command
talks to a running daemon.

Example:
        slotpost daemon
        slotpost --config ./slotpost.toml daemon

`
	StatusDescription = `The status command shows whether the scheduler is running,
the configured times, the next slot and the queue size.

Example:
        slotpost status

`
	QueueDescription = `The queue command lists pending folders in the order they
will be published. Use --front to publish a folder next, or
--priority to place it explicitly (lower goes first).

Example:
        slotpost queue
        slotpost queue --front beach-day
        slotpost queue --priority beach-day=-5

`
	PostDescription = `The post command publishes a folder immediately. Without an
argument it publishes the folder at the head of the queue.

Example:
        slotpost post
        slotpost post beach-day

`
	TimesDescription = `The times command prints the daily post times. Passing times
replaces the whole list; passing none of them prints it.

Example:
        slotpost times
        slotpost times 09:00 13:30 21:00

`
	ResetDescription = `The reset command clears the scheduler state (post times,
priorities, daily counters). The post history is kept.

Example:
        slotpost reset

`
	HistoryDescription = `The history command lists the most recent successful posts.
With --ledger it lists every recorded attempt, failures included.

Example:
        slotpost history --limit 5
        slotpost history --ledger

`
	SyncDescription = `The sync command asks the daemon to pull new folders from the
remote store. --status only compares both sides. --local runs the
download in this process with progress bars, without a daemon.

Example:
        slotpost sync
        slotpost sync --status
        slotpost sync --local

`
	CleanupDescription = `The cleanup command deletes archived folders older than the
given number of days.

Example:
        slotpost cleanup --days 60

`
)
