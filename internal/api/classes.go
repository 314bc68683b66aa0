// Package api exposes a read-only HTTP/JSON view over a snapshot of the
// clustering engine's true classes. It never drives the clustering loop
// itself — it is handed a Snapshot by the caller and only serves reads
// from it.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/hurttlocker/wordclass/internal/disjunct"
	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

// Snapshot is the read-only view handed to the API at construction time.
type Snapshot struct {
	Store       vectorstore.Store
	TrueClasses []string
}

// ClassListItem summarizes one true class for the list endpoint.
type ClassListItem struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// ClassListResponse is the body of GET /classes.
type ClassListResponse struct {
	Classes []ClassListItem `json:"classes"`
	Total   int             `json:"total"`
}

// ClassDetailResponse is the body of GET /classes/{name}.
type ClassDetailResponse struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Bases   []string `json:"bases"`
}

// Handler returns an http.Handler serving the inspection endpoints over
// snap.
func Handler(snap Snapshot) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/classes", func(w http.ResponseWriter, r *http.Request) {
		handleClassesList(w, r, snap)
	})
	mux.HandleFunc("/classes/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/classes/")
		if name == "" {
			handleClassesList(w, r, snap)
			return
		}
		handleClassDetail(w, r, snap, name)
	})
	return mux
}

func handleClassesList(w http.ResponseWriter, r *http.Request, snap Snapshot) {
	ctx := r.Context()
	resp := ClassListResponse{Classes: make([]ClassListItem, 0, len(snap.TrueClasses))}
	for _, name := range snap.TrueClasses {
		members, err := snap.Store.MembersOf(ctx, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Classes = append(resp.Classes, ClassListItem{Name: name, MemberCount: len(members)})
	}
	resp.Total = len(resp.Classes)
	writeJSON(w, http.StatusOK, resp)
}

func handleClassDetail(w http.ResponseWriter, r *http.Request, snap Snapshot, name string) {
	ctx := r.Context()
	if !contains(snap.TrueClasses, name) {
		writeError(w, http.StatusNotFound, errNotFound(name))
		return
	}
	members, err := snap.Store.MembersOf(ctx, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pairs, err := snap.Store.RightStars(ctx, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	bases := make([]string, 0, len(pairs))
	for _, p := range pairs {
		bases = append(bases, disjunct.Format(p.Basis))
	}
	sort.Strings(bases)
	writeJSON(w, http.StatusOK, ClassDetailResponse{Name: name, Members: members, Bases: bases})
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

type notFoundError struct{ name string }

func (e notFoundError) Error() string { return "class not found: " + e.name }

func errNotFound(name string) error { return notFoundError{name: name} }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
