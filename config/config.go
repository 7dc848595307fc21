package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

const DefaultListenAddr = "127.0.0.1:5001"

type MetaConfig struct {
	Version         string                 `json:"-"`
	ListenAddr      string                 `json:"listen"`
	ListenAddrTLS   string                 `json:"listentls"`
	SiteName        string                 `json:"sitename"`
	SiteURL         string                 `json:"siteurl"`
	DevelopmentMode bool                   `json:"devmode"`
	CopyrightName   string                 `json:"copyright-name"`
	TemplateData    map[string]interface{} `json:"templatedata"`
	LiveTemplate    bool                   `json:"livetemplate"`
	PathTemplates   string                 `json:"templatedir"`
	PathPublic      string                 `json:"publicdir"`
}

type Config struct {
	Meta           MetaConfig     `json:"Meta,omitempty"`
	Sec            SecurityConfig `json:"Security,omitempty"`
	Store          StoreConfig    `json:"Store,omitempty"`
	ConfigFilePath string         `json:"-"` // empty if stdin ($PWD used)
}

type SecurityConfig struct {
	HashKey     string `json:"hash-key"`
	BlockKey    string `json:"block-key"`
	CSRFKey     string `json:"csrf-key"`
	CookieName  string `json:"cookie-name"`
	Whitelist   string `json:"whitelist"`
	Blacklist   string `json:"blacklist"`
	ServePublic bool   `json:"servepublic"` // serve all unhandled URLs from publicdir
	AuditDB     string `json:"auditdb"`
}

type StoreConfig struct {
	ContactsPath string `json:"contacts"` // path to contacts.json
	Watch        bool   `json:"watch"`    // reload when edited outside the process
}

// Load reads a JSON config file. Use "-" to read stdin.
func Load(path string) (*Config, error) {
	var cfg = new(Config)
	if path == "-" {
		dec := json.NewDecoder(os.Stdin)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("error decoding json config: %w", err)
		}
		log.Println("read config from stdin")
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("error decoding json config: %w", err)
	}
	log.Println("read config from", path)
	cfg.ConfigFilePath = path
	return cfg, nil
}

// CheckConfig fills defaults, absolutizes paths, and applies the
// $PORT / $SITEURL / $CONTACTS_JSON_PATH environment overrides.
func CheckConfig(config *Config) error {
	if config.Meta.Version == "" {
		config.Meta.Version = "contactd"
	}
	if config.Meta.ListenAddr == "" {
		config.Meta.ListenAddr = DefaultListenAddr
	}
	if config.Meta.SiteName == "" {
		config.Meta.SiteName = "Contact Manager"
	}
	if config.Meta.PathPublic == "" {
		config.Meta.PathPublic = "./www/public"
	}
	if config.Meta.PathTemplates == "" {
		config.Meta.PathTemplates = "./www/templates"
	}
	if config.Store.ContactsPath == "" {
		config.Store.ContactsPath = "contacts.json"
	}
	if config.Sec.CookieName == "" {
		config.Sec.CookieName = "contactd"
	}
	if config.Sec.AuditDB == "" {
		config.Sec.AuditDB = "audit.db"
	}

	// a local daemon should start without ceremony; missing cookie and
	// csrf keys get insecure defaults, loudly
	for name, key := range map[string]*string{
		"hash-key":  &config.Sec.HashKey,
		"block-key": &config.Sec.BlockKey,
		"csrf-key":  &config.Sec.CSRFKey,
	} {
		if *key == "" {
			log.Printf("config: Security.%s is empty, using an insecure development default", name)
			*key = "contactd-dev-" + name + "-0123456789abcdef"
		}
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	if config.ConfigFilePath != "" {
		dir, err = filepath.Abs(filepath.Dir(config.ConfigFilePath))
		if err != nil {
			return fmt.Errorf("error %v", err)
		}
	}

	for _, p := range []*string{
		&config.Meta.PathPublic,
		&config.Meta.PathTemplates,
		&config.Store.ContactsPath,
		&config.Sec.AuditDB,
	} {
		if !filepath.IsAbs(*p) {
			*p, err = filepath.Abs(filepath.Join(dir, *p))
			if err != nil {
				return err
			}
		}
	}

	// env overrides beat flags and config file
	if port := os.Getenv("PORT"); port != "" {
		log.Println("overriding flags and config file with $PORT", port)
		config.Meta.ListenAddr = "127.0.0.1:" + port
	}
	if siteurl := os.Getenv("SITEURL"); siteurl != "" {
		log.Println("overriding flags and config file with $SITEURL", siteurl)
		config.Meta.SiteURL = siteurl
	}
	if datapath := os.Getenv("CONTACTS_JSON_PATH"); datapath != "" {
		log.Println("overriding flags and config file with $CONTACTS_JSON_PATH", datapath)
		config.Store.ContactsPath = datapath
	}

	if config.Meta.SiteURL == "" {
		config.Meta.SiteURL = "http://" + config.Meta.ListenAddr
	}

	// templates must exist; public assets are optional but warned about
	if s, err := os.Stat(config.Meta.PathTemplates); err != nil || !s.IsDir() {
		return fmt.Errorf("template directory not found: %q (%v)", config.Meta.PathTemplates, err)
	}
	if s, err := os.Stat(config.Meta.PathPublic); err != nil || !s.IsDir() {
		log.Printf("Warning: no public web assets found at %q, static routes will 404", config.Meta.PathPublic)
	}

	return nil
}
