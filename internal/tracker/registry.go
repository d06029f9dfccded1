package tracker

import (
	"errors"
	"sync"

	"peershare/internal/protocol"
)

var (
	// ErrAlreadyRegistered is returned when a hostname has been registered
	// before, whether or not that peer is still active.
	ErrAlreadyRegistered = errors.New("hostname already registered")
	// ErrUnknownPeer is returned when a hostname was never registered.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrNotFound is returned for unknown files and hostnames, and for files
	// with no active holder.
	ErrNotFound = errors.New("not found")
)

// PeerRecord describes a registered peer. IP is the address observed on the
// registry connection; Port is the transfer port the peer declared.
type PeerRecord struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Active   bool   `json:"active"`
}

// FileRecord describes a published filename. Holders is in insertion order
// and always starts with Owner.
type FileRecord struct {
	Filename string   `json:"filename"`
	Owner    string   `json:"owner"`
	Holders  []string `json:"holders"`
}

type fileState struct {
	owner   string
	holders []string
	held    map[string]bool
}

// Registry is the tracker's peer and file state. A single mutex guards both
// maps and is held for the whole of every operation.
type Registry struct {
	mu sync.Mutex

	peers     map[string]*PeerRecord
	peerOrder []string

	files     map[string]*fileState
	fileOrder []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*PeerRecord),
		files: make(map[string]*fileState),
	}
}

// Register records a new active peer.
func (r *Registry) Register(hostname, ip string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[hostname]; ok {
		return ErrAlreadyRegistered
	}
	r.peers[hostname] = &PeerRecord{Hostname: hostname, IP: ip, Port: port, Active: true}
	r.peerOrder = append(r.peerOrder, hostname)
	return nil
}

// Publish adds hostname as a holder of filename. created reports whether this
// call created the file record, making hostname its owner. Publishing an
// existing (filename, hostname) pair again is a successful no-op.
func (r *Registry) Publish(filename, hostname string) (created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[hostname]; !ok {
		return false, ErrUnknownPeer
	}

	f, ok := r.files[filename]
	if !ok {
		r.files[filename] = &fileState{
			owner:   hostname,
			holders: []string{hostname},
			held:    map[string]bool{hostname: true},
		}
		r.fileOrder = append(r.fileOrder, filename)
		return true, nil
	}

	if !f.held[hostname] {
		f.held[hostname] = true
		f.holders = append(f.holders, hostname)
	}
	return false, nil
}

// Fetch returns the active holders of filename in holder insertion order.
func (r *Registry) Fetch(filename string) ([]protocol.PeerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[filename]
	if !ok {
		return nil, ErrNotFound
	}

	var peers []protocol.PeerEntry
	for _, h := range f.holders {
		p, ok := r.peers[h]
		if !ok || !p.Active {
			continue
		}
		peers = append(peers, protocol.PeerEntry{
			IP:       p.IP,
			Port:     p.Port,
			Hostname: h,
			Owner:    h == f.owner,
		})
	}
	if len(peers) == 0 {
		return nil, ErrNotFound
	}
	return peers, nil
}

// ListClients returns the active hostnames in registration order.
func (r *Registry) ListClients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	hosts := make([]string, 0, len(r.peerOrder))
	for _, h := range r.peerOrder {
		if r.peers[h].Active {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// DiscoverClient returns the files hostname holds, in first-publish order. A
// registered peer with no files yields an empty list and no error.
func (r *Registry) DiscoverClient(hostname string) ([]protocol.FileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[hostname]; !ok {
		return nil, ErrNotFound
	}

	files := []protocol.FileEntry{}
	for _, name := range r.fileOrder {
		f := r.files[name]
		if f.held[hostname] {
			files = append(files, protocol.FileEntry{Filename: name, Owner: f.owner == hostname})
		}
	}
	return files, nil
}

// Disconnect marks hostname inactive. Its file holdings are kept.
func (r *Registry) Disconnect(hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[hostname]; ok {
		p.Active = false
	}
}

// Peer returns a copy of the record for hostname.
func (r *Registry) Peer(hostname string) (PeerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[hostname]
	if !ok {
		return PeerRecord{}, false
	}
	return *p, true
}

// Peers returns copies of every peer record, active or not, in registration
// order.
func (r *Registry) Peers() []PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PeerRecord, 0, len(r.peerOrder))
	for _, h := range r.peerOrder {
		out = append(out, *r.peers[h])
	}
	return out
}

// File returns a copy of the record for filename.
func (r *Registry) File(filename string) (FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[filename]
	if !ok {
		return FileRecord{}, false
	}
	return f.record(filename), true
}

// Files returns copies of every file record in first-publish order.
func (r *Registry) Files() []FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FileRecord, 0, len(r.fileOrder))
	for _, name := range r.fileOrder {
		out = append(out, r.files[name].record(name))
	}
	return out
}

func (f *fileState) record(name string) FileRecord {
	holders := make([]string, len(f.holders))
	copy(holders, f.holders)
	return FileRecord{Filename: name, Owner: f.owner, Holders: holders}
}
