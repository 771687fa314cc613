package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/slotpost/slotpost/cmd/common"
	sharedCommon "github.com/slotpost/slotpost/common"
	"github.com/slotpost/slotpost/internal/config"
	"github.com/slotpost/slotpost/internal/content"
	"github.com/slotpost/slotpost/internal/remotesync"
	"github.com/slotpost/slotpost/pkg/logger"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
)

var (
	syncStatusOnly bool
	syncLocal      bool

	syncFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "status, s",
			Usage:       "only compare the remote store with the local library",
			Destination: &syncStatusOnly,
		},
		cli.BoolFlag{
			Name:        "local, l",
			Usage:       "download in this process instead of asking the daemon",
			Destination: &syncLocal,
		},
	}
)

func syncCmd(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if syncLocal {
		return syncInProcess(ctx)
	}
	if syncStatusOnly {
		var res sharedCommon.SyncStatusResult
		if err := callDaemon(sharedCommon.MethodSyncStatus, nil, &res); err != nil {
			common.PrintRuntimeErr(ctx, "sync", "status", rpcMessage(err))
			return nil
		}
		printSyncStatus(out, &res)
		return nil
	}
	var res sharedCommon.SyncResult
	if err := callDaemonWithin(POST_TIMEOUT, sharedCommon.MethodSyncRun, nil, &res); err != nil {
		common.PrintRuntimeErr(ctx, "sync", "run", rpcMessage(err))
		return nil
	}
	fmt.Fprintln(out, res.Message)
	for _, name := range res.Downloaded {
		fmt.Fprintf(out, "  + %s\n", name)
	}
	return nil
}

func printSyncStatus(w io.Writer, res *sharedCommon.SyncStatusResult) {
	fmt.Fprintf(w, "Remote folders: %d\n", res.RemoteCount)
	fmt.Fprintf(w, "Local folders:  %d\n", res.LocalCount)
	fmt.Fprintf(w, "Pending sync:   %d\n", res.PendingCount)
	if len(res.PendingNames) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(res.PendingNames, "\n  "))
	}
}

func syncInProcess(ctx *cli.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "load_config", err)
		return nil
	}
	if cfg.Remote.URL == "" {
		common.PrintRuntimeErr(ctx, "sync", "remote", fmt.Errorf("no remote configured (%s)", sharedCommon.RemoteURLEnv))
		return nil
	}
	l := logger.NewStandardLogger(log.New(os.Stderr, "", log.LstdFlags))

	lib, err := content.NewLibrary(afero.NewOsFs(), cfg.ContentPath, l)
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "library", err)
		return nil
	}
	backend, err := remotesync.Open(cfg.Remote.URL, remoteOptions(cfg, l))
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "open_remote", err)
		return nil
	}
	syncer := remotesync.NewSyncer(backend, lib, l)
	defer syncer.Close()

	if syncStatusOnly {
		st, err := syncer.Status(context.Background())
		if err != nil {
			common.PrintRuntimeErr(ctx, "sync", "status", err)
			return nil
		}
		printSyncStatus(out, &sharedCommon.SyncStatusResult{
			RemoteCount:  st.RemoteCount,
			LocalCount:   st.LocalCount,
			PendingCount: st.PendingCount,
			PendingNames: st.PendingNames,
		})
		return nil
	}

	sigCtx, cancel := setupShutdownHandler()
	defer cancel()

	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(time.Millisecond*120))
	bp := newBarProgress(p)
	syncer.SetProgress(bp)
	downloaded, err := syncer.Sync(sigCtx)
	p.Wait()

	fmt.Fprintf(out, "Downloaded %d folder(s), %s\n", len(downloaded), humanize.IBytes(uint64(bp.Bytes())))
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "download", err)
	}
	return nil
}

func remoteOptions(cfg *config.Config, l logger.Logger) remotesync.Options {
	return remotesync.Options{
		KeyPath:        cfg.Remote.KeyPath,
		KnownHostsPath: cfg.KnownHostsPath(),
		AccessKey:      cfg.Remote.S3AccessKey,
		SecretKey:      cfg.Remote.S3SecretKey,
		Region:         cfg.Remote.S3Region,
		Log:            l,
	}
}

// barProgress draws one bar per downloaded folder.
type barProgress struct {
	p     *mpb.Progress
	mu    sync.Mutex
	bars  map[string]*mpb.Bar
	sized map[string]bool
	bytes int64
}

func newBarProgress(p *mpb.Progress) *barProgress {
	return &barProgress{
		p:     p,
		bars:  make(map[string]*mpb.Bar),
		sized: make(map[string]bool),
	}
}

func (b *barProgress) FolderStarted(name string, files int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bars[name] = common.InitSyncBar(b.p, name, files, bytes)
	b.sized[name] = bytes > 0
}

func (b *barProgress) FileDone(folder string, file remotesync.RemoteFile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytes += file.Size
	bar, ok := b.bars[folder]
	if !ok {
		return
	}
	if b.sized[folder] {
		bar.IncrInt64(file.Size)
	} else {
		bar.Increment()
	}
}

func (b *barProgress) FolderDone(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bar, ok := b.bars[name]
	if !ok {
		return
	}
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	delete(b.bars, name)
	delete(b.sized, name)
}

// Bytes returns the total size of completed files.
func (b *barProgress) Bytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}
