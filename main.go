package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/csrf"

	"contactd/config"
	"contactd/greylist"
	"contactd/system"

	_ "net/http/pprof"
)

var info = "contactd keeps your address book in one json file"
var logo = "" +
	"                   __             __      __\n" +
	"  _________  ____  / /_____ ______/ /_____/ /\n" +
	" / ___/ __ \\/ __ \\/ __/ __ `/ ___/ __/ __  /    " + info + "\n" +
	"/ /__/ /_/ / / / / /_/ /_/ / /__/ /_/ /_/ /\n" +
	"\\___/\\____/_/ /_/\\__/\\__,_/\\___/\\__/\\__,_/\n\n"

func main() {

	// defaults
	var (
		devmode     = false
		addr        = config.DefaultListenAddr
		configpath  = "config.json"
		datapath    = ""
		sslCert     = ""
		sslKey      = ""
		sslAddr     = ""
		showVersion = false
	)

	// flags
	flag.StringVar(&addr, "addr", addr, "address to serve")
	flag.BoolVar(&devmode, "dev", devmode, "development mode (insecure)")
	flag.StringVar(&configpath, "conf", configpath, "path to config.json (use - for stdin)")
	flag.StringVar(&datapath, "data", datapath, "path to contacts.json (overrides config)")
	flag.StringVar(&sslCert, "sslcert", sslCert, "path to ssl cert")
	flag.StringVar(&sslKey, "sslkey", sslKey, "path to ssl key")
	flag.StringVar(&sslAddr, "ssladdr", sslAddr, "listen TLS if cert and key exist")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	doConfigDump := flag.Bool("dumpconfig", false, "dump config and exit")
	flag.Parse()

	log.SetPrefix("[contactd] ")

	if os.Getenv("DEBUG") != "" {
		go func() {
			log.Println(http.ListenAndServe("localhost:6060", nil))
		}()
	}

	println(logo)
	println("contactd", Version)
	if showVersion {
		os.Exit(0)
	}

	// read config file or stdin; a missing default config file just
	// means we run on defaults
	var cfg = new(config.Config)
	if configpath == "config.json" {
		if _, err := os.Stat(configpath); err != nil {
			log.Println("no config.json, using defaults")
			configpath = ""
		}
	}
	if configpath != "" {
		loaded, err := config.Load(configpath)
		if err != nil {
			log.Fatalln(err)
		}
		cfg = loaded
	}
	cfg.Meta.Version = "contactd " + Version

	// override config with flags
	if devmode {
		cfg.Meta.DevelopmentMode = devmode
	}
	if cfg.Meta.DevelopmentMode {
		log.SetFlags(log.Lshortfile | log.LstdFlags)
	}
	if addr != config.DefaultListenAddr || cfg.Meta.ListenAddr == "" {
		cfg.Meta.ListenAddr = addr
	}
	if sslAddr != "" {
		cfg.Meta.ListenAddrTLS = sslAddr
	}
	if datapath != "" {
		cfg.Store.ContactsPath = datapath
	}

	// check config, open store and audit db
	s, err := system.New(cfg)
	if err != nil {
		log.Fatalln("boot error:", err)
	}
	defer s.Close()

	if *doConfigDump {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent(" ", " ")
		if err := enc.Encode(s.Config()); err != nil {
			log.Fatalln(err)
		}
		return
	}

	checked := s.Config()
	CSRF := csrf.Protect([]byte(checked.Sec.CSRFKey),
		csrf.Secure(!checked.Meta.DevelopmentMode),
		csrf.FieldName("_csrf"),
		csrf.CookieName(checked.Sec.CookieName+"_csrf"))

	// Router
	router := &http.ServeMux{}
	router.Handle("/api/", http.HandlerFunc(s.ApiHandler))

	// static files
	router.Handle("/favicon.png", http.HandlerFunc(s.StaticHandler))
	router.Handle("/favicon.ico", http.HandlerFunc(s.StaticHandler))
	router.Handle("/css/", http.HandlerFunc(s.StaticHandler))
	router.Handle("/js/", http.HandlerFunc(s.StaticHandler))
	router.Handle("/robots.txt", http.HandlerFunc(s.StaticHandler))

	// contact pages and forms
	router.Handle("/contacts", CSRF(http.HandlerFunc(s.CreateHandler)))
	router.Handle("/contacts/", CSRF(http.HandlerFunc(s.ContactHandler)))
	router.Handle("/export/", CSRF(http.HandlerFunc(s.ExportHandler)))

	// status
	router.Handle("/status", http.HandlerFunc(s.StatusHandler))

	// home and 404s (OR rest of files in publicdir if config allows)
	router.Handle("/", CSRF(http.HandlerFunc(s.HomeHandler)))

	// setup greylist
	var refreshRate time.Duration // none, no auto refresh
	banTime := time.Hour * 24
	if checked.Meta.DevelopmentMode {
		log.Println("DEV MODE")
		refreshRate = time.Second * 10
		banTime = time.Minute
	}
	glist := greylist.New(checked.Sec.Whitelist, checked.Sec.Blacklist, refreshRate)
	glist.SetBanTime(banTime)
	s.SetGreylist(glist)

	// Serve or die!
	if sslCert != "" && sslKey != "" && checked.Meta.ListenAddrTLS != "" {
		go func() {
			<-time.After(time.Second)
			log.Println("serving TLS: ", checked.Meta.ListenAddrTLS)
		}()
		go func() {
			log.Fatalln(http.ListenAndServeTLS(checked.Meta.ListenAddrTLS, sslCert, sslKey,
				glist.Protect(s.HitCounter(router))))
		}()
	}
	go func() {
		<-time.After(time.Second)
		log.Println("serving HTTP:", checked.Meta.ListenAddr)
		log.Println("View in browser:", checked.Meta.SiteURL)
	}()

	log.Fatalln(http.ListenAndServe(checked.Meta.ListenAddr,
		glist.Protect(s.HitCounter(router))))
}
