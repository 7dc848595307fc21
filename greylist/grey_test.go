package greylist

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func TestGetPassesThrough(t *testing.T) {
	l := New("", "", 0)
	h := l.Protect(okHandler)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200 got %d", w.Code)
	}
}

func TestTemporaryBan(t *testing.T) {
	l := New("", "", 0)
	h := l.Protect(okHandler)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.2:5555"
	l.Blacklist(r)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403 got %d", w.Code)
	}

	// GET still passes, only non-GET is screened by default
	g := httptest.NewRequest(http.MethodGet, "/", nil)
	g.RemoteAddr = "10.0.0.2:5555"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, g)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200 for GET got %d", w.Code)
	}

	// other clients unaffected
	other := httptest.NewRequest(http.MethodPost, "/", nil)
	other.RemoteAddr = "10.0.0.3:5555"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200 for other client got %d", w.Code)
	}
}

func TestBanExpires(t *testing.T) {
	l := New("", "", 0)
	l.SetBanTime(10 * time.Millisecond)
	h := l.Protect(okHandler)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.4:5555"
	l.Blacklist(r)
	time.Sleep(20 * time.Millisecond)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expired ban should pass, got %d", w.Code)
	}
}

func TestBlacklistFile(t *testing.T) {
	dir := t.TempDir()
	blacklist := filepath.Join(dir, "blacklist.txt")
	os.WriteFile(blacklist, []byte("# bad guys\n10.0.0.9\n\n"), 0644)

	l := New("", blacklist, 0)
	h := l.Protect(okHandler)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("want 403 for listed ip got %d", w.Code)
	}
}

func TestWhitelistBeatsBan(t *testing.T) {
	dir := t.TempDir()
	whitelist := filepath.Join(dir, "whitelist.txt")
	os.WriteFile(whitelist, []byte("10.0.0.10\n"), 0644)

	l := New(whitelist, "", 0)
	h := l.Protect(okHandler)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "10.0.0.10:5555"
	l.Blacklist(r)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("whitelisted ip should pass, got %d", w.Code)
	}
}
