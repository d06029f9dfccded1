package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PeerEntry is one holder in a FETCH_OK reply: "ip:port:hostname:ownerflag".
type PeerEntry struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
	Owner    bool   `json:"is_owner"`
}

func (p PeerEntry) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", p.IP, p.Port, p.Hostname, ownerFlag(p.Owner))
}

// Addr returns the dialable transfer address of the holder.
func (p PeerEntry) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// ParsePeerEntry decodes a FETCH_OK entry. Fields are taken from the right so
// that an IPv6 address keeps its colons. A missing owner flag is read as a
// non-owner.
func ParsePeerEntry(s string) (PeerEntry, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return PeerEntry{}, fmt.Errorf("malformed peer entry %q", s)
	}

	var owner bool
	if len(parts) >= 4 {
		switch parts[len(parts)-1] {
		case "1":
			owner = true
			parts = parts[:len(parts)-1]
		case "0":
			parts = parts[:len(parts)-1]
		}
	}

	n := len(parts)
	if n < 3 {
		return PeerEntry{}, fmt.Errorf("malformed peer entry %q", s)
	}
	port, err := strconv.Atoi(parts[n-2])
	if err != nil || port <= 0 || port > 65535 {
		return PeerEntry{}, fmt.Errorf("malformed port in peer entry %q", s)
	}
	ip := strings.Join(parts[:n-2], ":")
	if ip == "" || parts[n-1] == "" {
		return PeerEntry{}, fmt.Errorf("malformed peer entry %q", s)
	}

	return PeerEntry{IP: ip, Port: port, Hostname: parts[n-1], Owner: owner}, nil
}

// FileEntry is one file in a DISCOVER_CLIENT_OK reply: "filename:ownerflag".
type FileEntry struct {
	Filename string `json:"filename"`
	Owner    bool   `json:"is_owner"`
}

func (f FileEntry) String() string {
	return f.Filename + ":" + ownerFlag(f.Owner)
}

// ParseFileEntry decodes a DISCOVER_CLIENT_OK entry. An entry without an owner
// flag is the bare filename of a non-owner.
func ParseFileEntry(s string) (FileEntry, error) {
	if s == "" {
		return FileEntry{}, fmt.Errorf("empty file entry")
	}
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return FileEntry{Filename: s}, nil
	}
	name, flag := s[:i], s[i+1:]
	switch flag {
	case "1":
		return FileEntry{Filename: name, Owner: true}, nil
	case "0":
		return FileEntry{Filename: name}, nil
	}
	return FileEntry{Filename: s}, nil
}

// ParsePeerList decodes the body of a FETCH_OK reply.
func ParsePeerList(body string) ([]PeerEntry, error) {
	fields := strings.Fields(body)
	peers := make([]PeerEntry, 0, len(fields))
	for _, f := range fields {
		p, err := ParsePeerEntry(f)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// ParseFileList decodes the body of a DISCOVER_CLIENT_OK reply.
func ParseFileList(body string) ([]FileEntry, error) {
	fields := strings.Fields(body)
	files := make([]FileEntry, 0, len(fields))
	for _, f := range fields {
		e, err := ParseFileEntry(f)
		if err != nil {
			return nil, err
		}
		files = append(files, e)
	}
	return files, nil
}

// ParseFileSize decodes a "FILESIZE <n>" reply.
func ParseFileSize(line string) (int64, error) {
	cmd, args := Parse(line)
	if cmd != FileSize {
		return 0, fmt.Errorf("expected %s, got %q", FileSize, line)
	}
	if len(args) != 1 {
		return 0, fmt.Errorf("malformed %s reply %q", FileSize, line)
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed size in %q", line)
	}
	return n, nil
}

func ownerFlag(owner bool) string {
	if owner {
		return "1"
	}
	return "0"
}
