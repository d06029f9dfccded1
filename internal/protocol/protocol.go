// Package protocol defines the line vocabulary shared by the registry channel
// (peer to tracker) and the transfer channel (peer to peer).
//
// Every message is a single line of space-separated tokens terminated by
// '\n'. The first token is an uppercase keyword. After a transfer has been
// acknowledged with BEGIN_DOWNLOAD the transfer channel carries raw bytes.
package protocol

import (
	"strconv"
	"strings"
)

// Registry channel requests and replies.
const (
	Register        = "REGISTER"
	RegisterSuccess = "REGISTER_SUCCESS"
	RegisterFail    = "REGISTER_FAIL"

	Publish        = "PUBLISH"
	PublishSuccess = "PUBLISH_SUCCESS"
	PublishFail    = "PUBLISH_FAIL"

	Fetch         = "FETCH"
	FetchOK       = "FETCH_OK"
	FetchNotFound = "FETCH_NOT_FOUND"

	ListClients   = "LIST_CLIENTS"
	ListClientsOK = "LIST_CLIENTS_OK"

	DiscoverClient         = "DISCOVER_CLIENT"
	DiscoverClientOK       = "DISCOVER_CLIENT_OK"
	DiscoverClientNotFound = "DISCOVER_CLIENT_NOT_FOUND"

	UnknownCommand = "UNKNOWN_COMMAND"
)

// Transfer channel messages.
const (
	Download      = "DOWNLOAD"
	FileSize      = "FILESIZE"
	BeginDownload = "BEGIN_DOWNLOAD"
	Error         = "ERROR"
)

// Human-readable reasons carried after a *_FAIL or ERROR keyword.
const (
	ReasonHostnameExists  = "Hostname already exists"
	ReasonInvalidHostname = "Invalid hostname"
	ReasonInvalidPort     = "Invalid port"
	ReasonMissingArgs     = "Missing arguments"
	ReasonNotRegistered   = "Client not registered"
	ReasonInvalidFilename = "Invalid filename"

	ReasonInvalidRequest = "Invalid request"
	ReasonNoFilename     = "No filename specified"
	ReasonFileNotFound   = "File not found"
)

// Parse splits a line into its keyword and arguments. An empty or blank line
// yields an empty keyword.
func Parse(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// SplitReply separates the keyword of a reply from the remainder of the line,
// which may itself contain spaces (failure reasons, entry lists).
func SplitReply(line string) (string, string) {
	line = strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(line, " ")
	return cmd, strings.TrimSpace(rest)
}

func join(cmd string, args ...string) string {
	if len(args) == 0 {
		return cmd
	}
	return cmd + " " + strings.Join(args, " ")
}

// RegisterRequest encodes "REGISTER <hostname> <port>".
func RegisterRequest(hostname string, port int) string {
	return join(Register, hostname, strconv.Itoa(port))
}

// PublishRequest encodes "PUBLISH <filename> <hostname>".
func PublishRequest(filename, hostname string) string {
	return join(Publish, filename, hostname)
}

// FetchRequest encodes "FETCH <filename>".
func FetchRequest(filename string) string {
	return join(Fetch, filename)
}

// ListClientsRequest encodes "LIST_CLIENTS".
func ListClientsRequest() string {
	return ListClients
}

// DiscoverClientRequest encodes "DISCOVER_CLIENT <hostname>".
func DiscoverClientRequest(hostname string) string {
	return join(DiscoverClient, hostname)
}

// DownloadRequest encodes "DOWNLOAD <filename>".
func DownloadRequest(filename string) string {
	return join(Download, filename)
}

// Failure encodes a failure keyword followed by its reason.
func Failure(keyword, reason string) string {
	if reason == "" {
		return keyword
	}
	return join(keyword, reason)
}

// FileSizeReply encodes "FILESIZE <n>".
func FileSizeReply(n int64) string {
	return join(FileSize, strconv.FormatInt(n, 10))
}

// ErrorReply encodes "ERROR <reason>".
func ErrorReply(reason string) string {
	return Failure(Error, reason)
}

// FetchReply encodes "FETCH_OK <peer>...".
func FetchReply(peers []PeerEntry) string {
	args := make([]string, len(peers))
	for i, p := range peers {
		args[i] = p.String()
	}
	return join(FetchOK, args...)
}

// ListClientsReply encodes "LIST_CLIENTS_OK <hostname>...".
func ListClientsReply(hostnames []string) string {
	return join(ListClientsOK, hostnames...)
}

// DiscoverClientReply encodes "DISCOVER_CLIENT_OK <file-entry>...".
func DiscoverClientReply(files []FileEntry) string {
	args := make([]string, len(files))
	for i, f := range files {
		args[i] = f.String()
	}
	return join(DiscoverClientOK, args...)
}

// ValidHostname reports whether name can be carried as a single token inside
// a peer entry. Colons are reserved as the entry field separator.
func ValidHostname(name string) bool {
	return name != "" && !strings.ContainsAny(name, ": \t\r\n")
}

// ValidFilename reports whether name is a single token naming a file directly
// inside a share directory.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\ \t\r\n")
}
