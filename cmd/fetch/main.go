// Command fetch downloads every file of an owner from the delivery API,
// either file by file into a directory or into one local zip.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/rohits-web03/clientvault/internal/client"
)

func main() {
	var (
		server      = flag.String("server", "http://localhost:8080", "delivery API base URL")
		owner       = flag.String("owner", "", "owner id to download")
		token       = flag.String("token", os.Getenv("CLIENTVAULT_TOKEN"), "bearer token (default $CLIENTVAULT_TOKEN)")
		dest        = flag.StringP("dest", "o", ".", "destination directory, or zip path with --archive")
		concurrency = flag.IntP("concurrency", "c", 1, "files downloaded at once")
		archive     = flag.Bool("archive", false, "build one zip locally instead of writing files")
		memory      = flag.String("memory-limit", "2GB", "memory available for --archive")
		timeout     = flag.Duration("timeout", 10*time.Minute, "per-request timeout")
	)
	flag.Parse()

	ownerID, err := uuid.Parse(*owner)
	if err != nil {
		fatalf("invalid --owner: %v", err)
	}
	if *token == "" {
		fatalf("--token or CLIENTVAULT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*server, ownerID, client.NewHTTPClient(ctx, *token, *timeout))
	m, err := c.Manifest(ctx)
	if err != nil {
		fatalf("fetch manifest: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d files, %s\n", len(m.Files), humanize.Bytes(uint64(m.Bytes())))

	progress := func(p client.Progress) {
		if p.FileDone {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", p)
		}
	}

	if *archive {
		limit, err := humanize.ParseBytes(*memory)
		if err != nil {
			fatalf("invalid --memory-limit: %v", err)
		}
		a := client.NewArchiver(c, int64(limit))
		a.Concurrency = *concurrency
		a.OnProgress = progress
		a.OnPhase = func(p client.Phase) { fmt.Fprintf(os.Stderr, "\n%s\n", p) }
		go func() {
			<-ctx.Done()
			a.Abort()
		}()

		res, err := a.Create(ctx, m, *dest)
		if errors.Is(err, client.ErrInsufficientMemory) {
			fatalf("%v; rerun without --archive", err)
		}
		if errors.Is(err, client.ErrAborted) {
			fatalf("archive aborted after %d of %d files, nothing written", res.Files, len(m.Files))
		}
		if err != nil {
			fatalf("archive: %v", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s: %d files, %s\n", res.Path, res.Files, humanize.Bytes(uint64(res.Size)))
		reportFailures(res.Failed)
		return
	}

	d := client.NewDownloader(c, *dest)
	d.Concurrency = *concurrency
	d.OnProgress = progress
	go func() {
		<-ctx.Done()
		d.Abort()
	}()

	sum, err := d.Download(ctx, m)
	if sum != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n", sum)
		reportFailures(sum.Failed)
	}
	if err != nil {
		fatalf("download: %v", err)
	}
	if len(sum.Failed) > 0 {
		os.Exit(2)
	}
}

func reportFailures(failed []client.Failure) {
	for _, f := range failed {
		fmt.Fprintf(os.Stderr, "  failed %s: %v\n", f.File.Name, f.Err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fetch: "+format+"\n", args...)
	os.Exit(1)
}
