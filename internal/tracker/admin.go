package tracker

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// AdminHandler serves read-only JSON snapshots of the registry:
//
//	GET /clients             all peer records
//	GET /clients/{hostname}  one peer record plus the files it holds
//	GET /files               all file records
//	GET /files/{filename}    one file record plus its active holders
func AdminHandler(registry *Registry, logger zerolog.Logger) http.Handler {
	a := &admin{registry: registry, log: logger}

	r := mux.NewRouter()
	r.HandleFunc("/clients", a.listClients).Methods(http.MethodGet)
	r.HandleFunc("/clients/{hostname}", a.getClient).Methods(http.MethodGet)
	r.HandleFunc("/files", a.listFiles).Methods(http.MethodGet)
	r.HandleFunc("/files/{filename}", a.getFile).Methods(http.MethodGet)
	return r
}

type admin struct {
	registry *Registry
	log      zerolog.Logger
}

func (a *admin) listClients(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.Peers())
}

func (a *admin) getClient(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]
	p, ok := a.registry.Peer(hostname)
	if !ok {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	files, err := a.registry.DiscoverClient(hostname)
	if err != nil {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, struct {
		PeerRecord
		Files any `json:"files"`
	}{p, files})
}

func (a *admin) listFiles(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.registry.Files())
}

func (a *admin) getFile(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	f, ok := a.registry.File(filename)
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	// A file whose holders are all inactive still exists; it just has no
	// peers to offer.
	peers, _ := a.registry.Fetch(filename)
	a.writeJSON(w, http.StatusOK, struct {
		FileRecord
		Peers any `json:"peers"`
	}{f, peers})
}

func (a *admin) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("admin response write failed")
	}
}
