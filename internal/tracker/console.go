package tracker

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const consoleHelp = `Available server commands:
  discover <hostname>  : List files shared by a client
  ping <hostname>      : Check if a client is active
  list                 : List all registered clients
  files                : List all available files
  quit                 : Shutdown the server`

// Console is the tracker's operator command interface.
type Console struct {
	registry *Registry
	out      io.Writer
}

// NewConsole creates a console printing to out.
func NewConsole(registry *Registry, out io.Writer) *Console {
	return &Console{registry: registry, out: out}
}

// Run reads commands from in until "quit" or end of input.
func (c *Console) Run(in io.Reader) error {
	fmt.Fprintln(c.out, consoleHelp)

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if strings.ToLower(fields[0]) == "quit" {
			return nil
		}
		c.Exec(fields)
	}
	return sc.Err()
}

// Exec runs a single command.
func (c *Console) Exec(fields []string) {
	switch strings.ToLower(fields[0]) {
	case "discover":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "Usage: discover <hostname>")
			return
		}
		c.discover(fields[1])
	case "ping":
		if len(fields) < 2 {
			fmt.Fprintln(c.out, "Usage: ping <hostname>")
			return
		}
		c.ping(fields[1])
	case "list":
		c.list()
	case "files":
		c.files()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", fields[0])
	}
}

func (c *Console) discover(hostname string) {
	if _, ok := c.registry.Peer(hostname); !ok {
		fmt.Fprintf(c.out, "Client '%s' not found\n", hostname)
		return
	}

	fmt.Fprintf(c.out, "Files shared by '%s':\n", hostname)
	found := false
	for _, f := range c.registry.Files() {
		if !contains(f.Holders, hostname) {
			continue
		}
		if f.Owner == hostname {
			fmt.Fprintf(c.out, "  - %s (ORIGINAL)\n", f.Filename)
		} else {
			fmt.Fprintf(c.out, "  - %s (from %s)\n", f.Filename, f.Owner)
		}
		found = true
	}
	if !found {
		fmt.Fprintln(c.out, "  (no files)")
	}
}

func (c *Console) ping(hostname string) {
	p, ok := c.registry.Peer(hostname)
	if !ok {
		fmt.Fprintf(c.out, "Client '%s' not found\n", hostname)
		return
	}
	fmt.Fprintf(c.out, "Client '%s' at %s:%d is %s\n", hostname, p.IP, p.Port, status(p.Active))
}

func (c *Console) list() {
	fmt.Fprintln(c.out, "Registered Clients:")
	peers := c.registry.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}
	for _, p := range peers {
		fmt.Fprintf(c.out, "  - %s (%s:%d) - %s\n", p.Hostname, p.IP, p.Port, status(p.Active))
	}
}

func (c *Console) files() {
	fmt.Fprintln(c.out, "Available Files:")
	files := c.registry.Files()
	if len(files) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	active := make(map[string]bool)
	for _, p := range c.registry.Peers() {
		active[p.Hostname] = p.Active
	}
	for _, f := range files {
		var hosts []string
		for _, h := range f.Holders {
			if active[h] {
				hosts = append(hosts, h)
			}
		}
		avail := "none"
		if len(hosts) > 0 {
			avail = strings.Join(hosts, ", ")
		}
		fmt.Fprintf(c.out, "  - %s (owner: %s, available on: %s)\n", f.Filename, f.Owner, avail)
	}
}

func status(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
