// Package greylist implements a basic whitelisting/blacklisting http.Handler.
//
// It reads two files (whitelist, blacklist) of one IP per line, optionally
// refreshing them on a timer, and offers Blacklist(r) for temporary bans.
package greylist

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const DefaultBanTime = time.Hour

// List is a greylist instance. Wrap a handler with Protect.
type List struct {
	whitelistFilename string
	blacklistFilename string
	next              http.Handler

	mu         sync.RWMutex
	whitelist  map[string]struct{}
	blacklist  map[string]struct{}
	bans       map[string]time.Time
	allMethods bool
	banTime    time.Duration
}

// New accepts the two list filenames and a refresh rate. Missing or
// unreadable files are simply treated as empty. A refreshRate of 0
// disables automatic refreshing; Refresh can still be called directly.
func New(whitelistFilename, blacklistFilename string, refreshRate time.Duration) *List {
	l := &List{
		whitelistFilename: whitelistFilename,
		blacklistFilename: blacklistFilename,
		whitelist:         map[string]struct{}{},
		blacklist:         map[string]struct{}{},
		bans:              map[string]time.Time{},
		banTime:           DefaultBanTime,
	}
	l.Refresh()
	if refreshRate > 0 {
		go func() {
			for range time.Tick(refreshRate) {
				l.Refresh()
			}
		}()
	}
	return l
}

// Protect wraps a http.Handler:
//
//	http.ListenAndServe(":5001", glist.Protect(myHandler))
func (l *List) Protect(h http.Handler) http.Handler {
	l.next = h
	return l
}

// SetAllMethods also screens GET requests. Off by default.
func (l *List) SetAllMethods(b bool) { l.allMethods = b }

// SetBanTime sets how long offenders stay banned.
func (l *List) SetBanTime(d time.Duration) { l.banTime = d }

// Blacklist adds a temporary ban for the request's client address.
func (l *List) Blacklist(r *http.Request) {
	ip := clientKey(r)
	l.mu.Lock()
	l.bans[ip] = time.Now().Add(l.banTime)
	l.mu.Unlock()
	log.Printf("greylist: blacklisting for %s: %q", l.banTime, ip)
}

// client key includes X-Forwarded-For so one NAT'd bad guy behind a
// proxy doesn't ban the whole proxy
func clientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return ip + " " + r.Header.Get("X-Forwarded-For")
}

// ServeHTTP implements http.Handler
func (l *List) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// quick short circuit for GET requests
	if !l.allMethods && r.Method == http.MethodGet {
		l.next.ServeHTTP(w, r)
		return
	}

	ip := clientKey(r)
	bare, _, _ := strings.Cut(ip, " ")
	l.mu.RLock()
	_, whitelisted := l.whitelist[bare]
	_, blacklisted := l.blacklist[bare]
	until, banned := l.bans[ip]
	l.mu.RUnlock()

	switch {
	case whitelisted:
		l.next.ServeHTTP(w, r)
	case blacklisted:
		log.Printf("greylist: blocking blacklisted ip %q", ip)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case banned && until.After(time.Now()):
		log.Printf("greylist: blocking (temp) blacklisted ip %q (until %s)", ip, time.Until(until))
		http.Error(w, fmt.Sprintf("You have been blocked for %s", time.Until(until).Truncate(time.Second)), http.StatusForbidden)
	case banned:
		l.mu.Lock()
		delete(l.bans, ip)
		l.mu.Unlock()
		l.next.ServeHTTP(w, r)
	default:
		l.next.ServeHTTP(w, r)
	}
}

// Refresh re-reads both list files. Read errors are ignored so the
// files can simply not exist.
func (l *List) Refresh() {
	white := readList(l.whitelistFilename)
	black := readList(l.blacklistFilename)
	l.mu.Lock()
	l.whitelist = white
	l.blacklist = black
	l.mu.Unlock()
	if len(white)+len(black) > 0 {
		log.Printf("greylist: refreshed lists, whitelisted %d, blacklisted %d", len(white), len(black))
	}
}

func readList(filename string) map[string]struct{} {
	set := map[string]struct{}{}
	if filename == "" {
		return set
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		return set
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	return set
}
