package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"peershare/internal/p2p"
)

const consoleHelp = `Available commands:
  publish <local> <shared>       : Copy a file into the share directory and announce it
  fetch <filename>               : Download a file from the first holder that delivers it
  peers <filename>               : List the active holders of a file
  download <ip> <port> <file>    : Download a file from a specific peer
  clients                        : List active peers
  files <hostname>               : List the files a peer holds
  list                           : List files in the share directory
  quit                           : Disconnect and exit`

// console is the peer's interactive command interface.
type console struct {
	engine *p2p.Engine
	out    io.Writer
}

func newConsole(engine *p2p.Engine, out io.Writer) *console {
	return &console{engine: engine, out: out}
}

// run reads commands from in until "quit", end of input or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(c.out, consoleHelp)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(c.out, "%s> ", c.engine.Hostname())
		if !sc.Scan() {
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.ToLower(fields[0]) == "quit" {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}
		c.exec(ctx, fields)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *console) exec(ctx context.Context, fields []string) {
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "publish":
		if len(args) < 2 {
			fmt.Fprintln(c.out, "Usage: publish <local_filename> <shared_filename>")
			return
		}
		if err := c.engine.Publish(args[0], args[1]); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "Published %s\n", args[1])

	case "fetch":
		if len(args) < 1 {
			fmt.Fprintln(c.out, "Usage: fetch <filename>")
			return
		}
		c.fetch(ctx, args[0])

	case "peers":
		if len(args) < 1 {
			fmt.Fprintln(c.out, "Usage: peers <filename>")
			return
		}
		peers, err := c.engine.FetchPeers(args[0])
		if errors.Is(err, p2p.ErrNotFound) {
			fmt.Fprintf(c.out, "File '%s' not available\n", args[0])
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		for _, p := range peers {
			role := ""
			if p.Owner {
				role = " (ORIGINAL)"
			}
			fmt.Fprintf(c.out, "  %s at %s%s\n", p.Hostname, p.Addr(), role)
		}

	case "download":
		if len(args) < 3 {
			fmt.Fprintln(c.out, "Usage: download <ip> <port> <filename>")
			return
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid port: %s\n", args[1])
			return
		}
		if err := c.engine.DownloadFrom(ctx, args[0], port, args[2], c.progress(args[2])); err != nil {
			fmt.Fprintf(c.out, "\nDownload failed: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "\nDownloaded %s\n", args[2])

	case "clients":
		hosts, err := c.engine.ListClients()
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		if len(hosts) == 0 {
			fmt.Fprintln(c.out, "(none)")
		}
		for _, h := range hosts {
			fmt.Fprintf(c.out, "  %s\n", h)
		}

	case "files":
		if len(args) < 1 {
			fmt.Fprintln(c.out, "Usage: files <hostname>")
			return
		}
		files, err := c.engine.FilesOf(args[0])
		if errors.Is(err, p2p.ErrNotFound) {
			fmt.Fprintf(c.out, "Client '%s' not found\n", args[0])
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		if len(files) == 0 {
			fmt.Fprintln(c.out, "(none)")
		}
		for _, f := range files {
			role := ""
			if f.Owner {
				role = " (ORIGINAL)"
			}
			fmt.Fprintf(c.out, "  %s%s\n", f.Filename, role)
		}

	case "list":
		files, err := c.engine.Share().List()
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		if len(files) == 0 {
			fmt.Fprintln(c.out, "(none)")
		}
		for _, f := range files {
			fmt.Fprintf(c.out, "  %s (%s)\n", f.Name, humanize.Bytes(uint64(f.Size)))
		}

	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
	}
}

// fetch downloads name from the first holder that delivers it and then
// announces this peer as a holder.
func (c *console) fetch(ctx context.Context, name string) {
	from, err := c.engine.Fetch(ctx, name, c.progress(name))
	switch {
	case errors.Is(err, p2p.ErrNotAvailable):
		fmt.Fprintf(c.out, "File '%s' not available\n", name)
		return
	case err != nil:
		fmt.Fprintf(c.out, "\nFetch failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "\nDownloaded %s from %s\n", name, from.Hostname)

	if err := c.engine.Announce(name); err != nil {
		fmt.Fprintf(c.out, "Could not announce %s: %v\n", name, err)
		return
	}
	fmt.Fprintf(c.out, "Now sharing %s\n", name)
}

// progress prints a single updating line, redrawn at most once per percent.
func (c *console) progress(name string) p2p.ProgressFunc {
	last := -1
	return func(received, total int64) {
		pct := 100
		if total > 0 {
			pct = int(received * 100 / total)
		}
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(c.out, "\r%s: %s / %s (%d%%)", name,
			humanize.Bytes(uint64(received)), humanize.Bytes(uint64(total)), pct)
	}
}
