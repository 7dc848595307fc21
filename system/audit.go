package system

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	bolt "go.etcd.io/bbolt"
)

var auditBucket = []byte("changes")

// AuditEntry is one line of the change log.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Op        string    `json:"op"` // create, update, delete
	ContactID int       `json:"contact_id"`
	Name      string    `json:"name"`
	Remote    string    `json:"remote,omitempty"`
}

func openAuditDB(filename string) (*bolt.DB, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening audit db %s: %w", filename, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// audit records a successful mutation. Failures are logged and
// swallowed; the change itself already happened.
func (s *System) audit(r *http.Request, op string, contactID int, name string) {
	entry := AuditEntry{
		Time:      time.Now(),
		Op:        op,
		ContactID: contactID,
		Name:      name,
	}
	if r != nil {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			entry.Remote = ip
		} else {
			entry.Remote = r.RemoteAddr
		}
	}
	val, err := json.Marshal(entry)
	if err != nil {
		log.Println("error encoding audit entry:", err)
		return
	}
	// zero-padded nanos sort chronologically under bolt's byte order
	key := []byte(fmt.Sprintf("%020d", entry.Time.UnixNano()))
	err = s.auditDB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auditBucket).Put(key, val)
	})
	if err != nil {
		log.Println("error writing audit entry:", err)
	}
}

// recentAudit returns up to n entries, newest first.
func (s *System) recentAudit(n int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.auditDB.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				log.Printf("skipping bad audit entry %q: %v", k, err)
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
