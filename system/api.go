package system

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
)

type JSONError struct {
	Error string `json:"error"`
}

func serveJsonError(w http.ResponseWriter, e string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(JSONError{e}); err != nil {
		log.Println(err)
	}
}

// ApiHandler serves the read-only JSON surface:
//
//	GET /api/contacts       (optional ?q=)
//	GET /api/contacts/{id}
//	GET /api/history
func (s *System) ApiHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		serveJsonError(w, "bad method", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	path := strings.TrimPrefix(r.URL.Path, "/api/")
	switch {
	case path == "contacts":
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q != "" {
			json.NewEncoder(w).Encode(s.contacts.Search(q))
			return
		}
		json.NewEncoder(w).Encode(s.contacts.List())
	case strings.HasPrefix(path, "contacts/"):
		id, err := strconv.Atoi(strings.TrimPrefix(path, "contacts/"))
		if err != nil {
			s.addBadAttempt(r)
			serveJsonError(w, "bad contact id", http.StatusBadRequest)
			return
		}
		contact, err := s.contacts.Get(id)
		if err != nil {
			serveJsonError(w, "contact not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(contact)
	case path == "history":
		entries, err := s.recentAudit(50)
		if err != nil {
			serveJsonError(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []AuditEntry{}
		}
		json.NewEncoder(w).Encode(entries)
	case path == "stats":
		json.NewEncoder(w).Encode(s.contacts.Stats())
	default:
		serveJsonError(w, "not implemented", http.StatusNotFound)
	}
}
