package system

import (
	"fmt"
	"html/template"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/gorilla/securecookie"

	"contactd/config"
	"contactd/greylist"
	"contactd/store"
)

var pageNames = []string{"index.html", "detail.html"}

// System ties the contact store, templates, flash cookies, audit log
// and stats together. One per process.
type System struct {
	Stats Stats

	contacts  *store.Store
	auditDB   *bolt.DB
	cookies   *securecookie.SecureCookie
	templates map[string]*template.Template
	devmode   bool
	config    config.Config

	mu      sync.RWMutex // guards templates and config on reload
	hitlock sync.Mutex

	badguylock sync.Mutex
	badguys    map[string]*uint32
	greylist   *greylist.List
}

type Stats struct {
	Hits    uint64  `json:"hits"`
	Average float64 `json:"hits-per-second,omitempty"`
	t1      time.Time
	Uptime  float64 `json:"uptime,omitempty"`
}

// New checks the config, opens the contact store and audit database,
// parses templates, and installs the reload signal handler.
func New(cfg *config.Config) (*System, error) {
	if err := config.CheckConfig(cfg); err != nil {
		return nil, err
	}

	var hashKey = []byte(cfg.Sec.HashKey)
	var blockKey = []byte(cfg.Sec.BlockKey)
	if cfg.Meta.DevelopmentMode {
		blockKey = nil // not encrypted cookies
	}

	contacts, err := store.Open(cfg.Store.ContactsPath)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Watch {
		if err := contacts.Watch(); err != nil {
			log.Println("couldn't watch data file:", err)
		}
	}

	templates, err := parseTemplates(cfg.Meta.PathTemplates, cfg.Meta.DevelopmentMode)
	if err != nil {
		return nil, err
	}

	auditDB, err := openAuditDB(cfg.Sec.AuditDB)
	if err != nil {
		contacts.Close()
		return nil, err
	}

	sys := &System{
		contacts:  contacts,
		auditDB:   auditDB,
		cookies:   securecookie.New(hashKey, blockKey),
		templates: templates,
		devmode:   cfg.Meta.DevelopmentMode,
		config:    *cfg,
		badguys:   make(map[string]*uint32),
		Stats:     Stats{t1: time.Now()},
	}

	go func(s *System) {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
		for sig := range sigchan {
			log.Println("got signal:", sig.String())
			switch sig {
			case syscall.SIGUSR1:
				log.Println("reloading config")
				if err := s.ReloadConfig(); err != nil {
					log.Println("Error reloading config:", err)
				}
			case syscall.SIGUSR2:
				log.Println("reloading templates")
				if err := s.ReloadTemplates(); err != nil {
					log.Println("Error reloading templates:", err)
				}
			default:
				s.Close()
				os.Exit(111)
			}
		}
	}(sys)

	return sys, nil
}

func parseTemplates(dir string, devmode bool) (map[string]*template.Template, error) {
	t1 := time.Now()
	var templates = map[string]*template.Template{}
	partials, err := filepath.Glob(filepath.Join(dir, "_partials", "*.html"))
	if err != nil {
		return nil, fmt.Errorf("couldn't enumerate partial templates")
	}
	if devmode {
		log.Printf("Found %d partial templates: %q", len(partials), partials)
	}
	for _, name := range pageNames {
		if devmode {
			log.Println("Parsing template:", name)
		}
		templates[name], err = template.New(name).Funcs(templateFuncs).
			ParseFiles(append([]string{filepath.Join(dir, name)}, partials...)...)
		if err != nil {
			return nil, fmt.Errorf("couldn't parse template %q: %v", name, err)
		}
	}
	if devmode {
		log.Printf("Parsed %d templates in %s", len(templates), time.Since(t1))
	}
	return templates, nil
}

var templateFuncs = template.FuncMap{
	"shortdate": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}

func (s *System) ReloadTemplates() error {
	s.mu.RLock()
	dir, devmode := s.config.Meta.PathTemplates, s.devmode
	s.mu.RUnlock()
	templates, err := parseTemplates(dir, devmode)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
	return nil
}

func (s *System) ReloadConfig() error {
	s.mu.RLock()
	path := s.config.ConfigFilePath
	s.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("can't reload config, was set using stdin")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.CheckConfig(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.config = *cfg
	s.mu.Unlock()
	log.Println("reloaded config from", path)
	return nil
}

func (s *System) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *System) SetGreylist(g *greylist.List) {
	s.greylist = g
}

// Store exposes the contact store, mostly for tests.
func (s *System) Store() *store.Store {
	return s.contacts
}

// Close releases the audit database and the store watcher.
func (s *System) Close() error {
	s.contacts.Close()
	return s.auditDB.Close()
}

func (s *System) hits() uint64 {
	s.hitlock.Lock()
	defer s.hitlock.Unlock()
	return s.Stats.Hits
}

func (s *System) template(name string) *template.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.templates[name]
}
