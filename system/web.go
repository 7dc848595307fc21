package system

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/crewjam/csp"
	"github.com/gorilla/csrf"

	"contactd/store"
)

const MaxAttempts = 3

func (s *System) SetCSPHeader(w http.ResponseWriter) {
	u, err := url.Parse(s.Config().Meta.SiteURL)
	if err != nil {
		log.Println("Cant set Content-Security-Policy:", err)
		return
	}
	val := csp.Header{
		DefaultSrc: []string{"'self'", u.Hostname()},
	}.String()
	w.Header().Set("Content-Security-Policy", val)
}

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Category string `json:"category"` // success, warning, danger
	Message  string `json:"message"`
}

func (s *System) flashCookieName() string {
	return s.Config().Sec.CookieName + "_flash"
}

func (s *System) flash(w http.ResponseWriter, category, message string) {
	encoded, err := s.cookies.Encode(s.flashCookieName(), Flash{category, message})
	if err != nil {
		log.Println("error encoding flash cookie:", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:  s.flashCookieName(),
		Value: encoded,
		Path:  "/",
	})
}

// readFlash returns the pending flash, if any, and clears it.
func (s *System) readFlash(w http.ResponseWriter, r *http.Request) *Flash {
	name := s.flashCookieName()
	cookie, err := r.Cookie(name)
	if err != nil {
		return nil
	}
	http.SetCookie(w, &http.Cookie{Name: name, Path: "/", MaxAge: -1})
	var f Flash
	if err := s.cookies.Decode(name, cookie.Value, &f); err != nil {
		return nil
	}
	return &f
}

func (s *System) serveTemplate(w http.ResponseWriter, r *http.Request, tname string, data map[string]interface{}) {
	s.SetCSPHeader(w)
	t := s.template(tname)
	if t == nil {
		http.NotFound(w, r)
		return
	}

	cfg := s.Config()
	var pageTitle = cfg.Meta.SiteName
	if pageTitle != "" {
		pageTitle += " | "
	}
	switch tname {
	case "index.html":
		pageTitle += "Contacts"
	case "detail.html":
		pageTitle += "Contact"
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	data[csrf.TemplateTag] = csrf.TemplateField(r)
	data["csrfToken"] = csrf.Token(r)
	data["flash"] = s.readFlash(w, r)
	data["pageTitle"] = pageTitle
	data["hits"] = s.hits()
	data["uptime"] = time.Since(s.Stats.t1).Truncate(time.Second)
	data["sitename"] = cfg.Meta.SiteName
	data["copyrightname"] = cfg.Meta.CopyrightName
	data["meta"] = cfg.Meta.TemplateData
	if err := t.ExecuteTemplate(w, tname, data); err != nil {
		log.Printf("error executing template %q: %v", tname, err)
	}
}

// HomeHandler serves the contact list, optionally filtered by ?q=.
func (s *System) HomeHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		if r.Method == http.MethodOptions || r.Method == http.MethodHead {
			// 200
			return
		}
		path = "index.html"
	}
	if r.Method != http.MethodGet {
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
		return
	}
	if path != "index.html" {
		if s.Config().Sec.ServePublic {
			s.StaticHandler(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-CSRF-Token", csrf.Token(r))

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var contacts []store.Contact
	if q != "" {
		contacts = s.contacts.Search(q)
	} else {
		contacts = s.contacts.List()
	}
	s.serveTemplate(w, r, "index.html", map[string]interface{}{
		"contacts": contacts,
		"query":    q,
		"stats":    s.contacts.Stats(),
	})
}

// CreateHandler handles POST /contacts.
func (s *System) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		log.Printf("error parsing form: %v", err)
		http.Error(w, "form parse error", http.StatusBadRequest)
		return
	}
	c := store.Contact{
		Name:    strings.TrimSpace(r.FormValue("name")),
		Email:   strings.TrimSpace(r.FormValue("email")),
		Phone:   strings.TrimSpace(r.FormValue("phone")),
		Company: strings.TrimSpace(r.FormValue("company")),
		Address: strings.TrimSpace(r.FormValue("address")),
		Notes:   strings.TrimSpace(r.FormValue("notes")),
	}
	created, err := s.contacts.Add(c)
	if err != nil {
		log.Println("error creating contact:", err)
		s.flash(w, "danger", err.Error())
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.audit(r, "create", created.ID, created.Name)
	s.flash(w, "success", "Contact created")
	http.Redirect(w, r, "/", http.StatusFound)
}

// ContactHandler dispatches /contacts/{id}, /contacts/{id}/update and
// /contacts/{id}/delete. The mux can't split these for us.
func (s *System) ContactHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/contacts/")
	idpart, action, _ := strings.Cut(rest, "/")
	id, err := strconv.Atoi(idpart)
	if err != nil {
		s.addBadAttempt(r)
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		contact, err := s.contacts.Get(id)
		if err != nil {
			s.flash(w, "danger", "Contact not found")
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		w.Header().Set("X-CSRF-Token", csrf.Token(r))
		s.serveTemplate(w, r, "detail.html", map[string]interface{}{
			"contact": contact,
		})
	case "update":
		if r.Method != http.MethodPost {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "form parse error", http.StatusBadRequest)
			return
		}
		fields := store.Fields{}
		for _, k := range []string{"name", "email", "phone", "company", "address", "notes"} {
			fields[k] = strings.TrimSpace(r.FormValue(k))
		}
		updated, err := s.contacts.Update(id, fields)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.flash(w, "danger", "Contact not found")
		case err != nil:
			s.flash(w, "danger", err.Error())
		default:
			s.audit(r, "update", updated.ID, updated.Name)
			s.flash(w, "success", "Contact updated")
		}
		http.Redirect(w, r, fmt.Sprintf("/contacts/%d", id), http.StatusFound)
	case "delete":
		if r.Method != http.MethodPost {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		contact, err := s.contacts.Get(id)
		if err == nil {
			err = s.contacts.Delete(id)
		}
		if err != nil {
			s.flash(w, "danger", "Contact not found")
		} else {
			s.audit(r, "delete", contact.ID, contact.Name)
			s.flash(w, "warning", "Contact deleted")
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.NotFound(w, r)
	}
}

// ExportHandler serves GET /export/{json,csv} as a download.
func (s *System) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "bad method", http.StatusMethodNotAllowed)
		return
	}
	format := strings.TrimPrefix(r.URL.Path, "/export/")
	data, err := s.contacts.Export(format)
	if err != nil {
		s.flash(w, "danger", "Unsupported export format")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	ctype := "application/json"
	if format == "csv" {
		ctype = "text/csv"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "contacts_export."+format))
	w.Write(data)
}

func (s *System) StaticHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "bad method on staticHandler", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Expires", time.Now().Add(time.Hour*24).UTC().Truncate(time.Second).Format(http.TimeFormat))
	filename := filepath.Join(s.Config().Meta.PathPublic, filepath.Clean(r.URL.Path))
	http.ServeFile(w, r, filename)
}

// HitCounter http middleware that logs and counts
func (s *System) HitCounter(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Println(logr(r))
		s.hitlock.Lock()
		s.Stats.Hits++
		s.hitlock.Unlock()
		h.ServeHTTP(w, r)
	})
}

// ez http log
func logr(r *http.Request) string {
	ipaddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ipaddr = r.RemoteAddr
	}
	ipaddr += " "
	ipaddr += r.Header.Get("X-Forwarded-For")
	return fmt.Sprintf("%s %s %.50q %q %s", r.Host, r.Method, r.UserAgent(), ipaddr, r.URL.Path)
}

// addBadAttempt counts malformed requests per IP and feeds repeat
// offenders to the greylist.
func (s *System) addBadAttempt(r *http.Request) {
	if s.greylist == nil {
		return
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		log.Println("WARN: cant split host port for bad guy")
		return
	}

	s.badguylock.Lock()
	counter := s.badguys[ip]
	if counter == nil {
		counter = new(uint32)
		s.badguys[ip] = counter
	}
	*counter++
	n := *counter
	s.badguylock.Unlock()

	// this counter doesn't reset, so after getting banned+unbanned only
	// one more bad request will re-ban
	if n >= MaxAttempts {
		log.Println("adding to blacklist:", ip)
		s.greylist.Blacklist(r)
	}
}
