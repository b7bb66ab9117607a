package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"procrastinator/internal/app"
	logx "procrastinator/pkg/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath string
		once    bool
		runs    int
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.BoolVar(&once, "once", false, "schedule the configured deferreds, flush and exit")
	flag.IntVar(&runs, "runs", 0, "print the N most recent recorded runs and exit")
	flag.Parse()

	// boot logs until the configured logger exists, and for fatal exits.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		boot.Error("load failed", logx.String("config", cfgPath), logx.Err(err))
		return 1
	}

	if runs > 0 {
		return printRuns(ctx, boot, a, runs)
	}

	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		return 1
	}

	reason := app.StopSignal
	if once {
		reason = app.StopOnce
		if err := a.Flush(ctx); err != nil {
			boot.Warn("flush finished with errors", logx.Err(err))
		}
	} else {
		notify(boot, daemon.SdNotifyReady)
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}
	}

	notify(boot, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		boot.Error("exited with error", logx.String("reason", string(reason)), logx.Err(err))
		return 1
	}
	return 0
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	}
}

func printRuns(ctx context.Context, log logx.Logger, a *app.App, n int) int {
	defer func() { _ = a.Stop(context.Background(), app.StopOnce) }()

	recs, err := a.RecentRuns(ctx, n)
	if err != nil {
		log.Error("read runs failed", logx.Err(err))
		return 1
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tBATCH\tNAME\tDURATION\tRESULT")
	for _, r := range recs {
		result := "ok"
		if !r.OK() {
			result = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Started.Format(time.RFC3339), r.Batch, r.Name, r.Duration.Round(time.Millisecond), result)
	}
	if err := w.Flush(); err != nil {
		return 1
	}
	return 0
}
