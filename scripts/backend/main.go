// Backend is a stub service for running the gateway locally. It keeps an
// in-memory record store for one resource and exposes the endpoints the
// gateway routes and aggregates to.
//
// Usage:
//
//	go run ./scripts/backend -port 3001 -name user-service -resource users
//	go run ./scripts/backend -port 3002 -name product-service -resource products
//	go run ./scripts/backend -port 3003 -name category-service -resource categories
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type store struct {
	mutex   sync.RWMutex
	records map[string]record
}

func (s *store) list() []record {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *store) get(id string) (record, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *store) put(r record) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.records[r.ID] = r
}

func (s *store) delete(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok
}

func (s *store) search(term string) []record {
	term = strings.ToLower(term)
	var out []record
	for _, r := range s.list() {
		for _, v := range r.Fields {
			if str, ok := v.(string); ok && strings.Contains(strings.ToLower(str), term) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "user-service", "service name reported by /health")
	resource := flag.String("resource", "users", "resource path segment, e.g. users or products")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("service", *name))
	db := &store{records: make(map[string]record)}
	base := "/" + *resource

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": *name})
	}).Methods(http.MethodGet)

	r.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, db.list())
	}).Methods(http.MethodGet)

	r.HandleFunc(base+"/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, db.search(r.URL.Query().Get("q")))
	}).Methods(http.MethodGet)

	// The dashboard reads the caller's profile from the user service.
	r.HandleFunc(base+"/profile", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "service": *name})
	}).Methods(http.MethodGet)

	r.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token": uuid.New().String()})
	}).Methods(http.MethodPost)

	r.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		now := time.Now()
		rec := record{ID: uuid.New().String(), Fields: fields, CreatedAt: now, UpdatedAt: now}
		db.put(rec)
		log.Info("Created record", slog.String("id", rec.ID))
		writeJSON(w, http.StatusCreated, rec)
	}).Methods(http.MethodPost)

	r.HandleFunc(base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := db.get(mux.Vars(r)["id"])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}).Methods(http.MethodGet)

	r.HandleFunc(base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := db.get(mux.Vars(r)["id"])
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if r.Method == http.MethodPut {
			rec.Fields = fields
		} else {
			if rec.Fields == nil {
				rec.Fields = make(map[string]any, len(fields))
			}
			for k, v := range fields {
				rec.Fields[k] = v
			}
		}
		rec.UpdatedAt = time.Now()
		db.put(rec)
		writeJSON(w, http.StatusOK, rec)
	}).Methods(http.MethodPut, http.MethodPatch)

	r.HandleFunc(base+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !db.delete(mux.Vars(r)["id"]) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	addr := fmt.Sprintf(":%d", *port)
	log.Info("Starting stub backend", slog.String("address", addr), slog.String("resource", base))
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
