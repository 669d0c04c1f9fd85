// Package presence tracks who is online in a room via short-lived,
// mtime-authoritative JSON files written atomically by each peer.
// There is no central broker: presence is derived entirely by reading
// the filesystem.
package presence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/huddle-chat/huddle/internal/applog"
)

// HeartbeatInterval is how often a live peer refreshes its presence file.
const HeartbeatInterval = 10 * time.Second

// StaleAfter is how long since a file's last heartbeat before a user is
// considered offline, even if the file itself is still present.
const StaleAfter = 30 * time.Second

// QuarantineThreshold is the number of consecutive malformed reads of a
// presence file before it is moved out of the way rather than retried
// forever.
const QuarantineThreshold = 3

// quarantineDirName is the subdirectory, relative to a room's presence
// directory, that repeatedly-malformed files are moved into.
const quarantineDirName = "quarantine"

// Record is the wire format of one presence file: {name, color, status,
// client_id, room, last_seen:<unix>}.
type Record struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	Room     string `json:"room"`
	LastSeen int64  `json:"last_seen"`
}

// store is the minimal storage surface presence needs, satisfied by
// *storage.Store without importing it (avoids a dependency cycle with
// internal/storage, which does not need presence).
type store interface {
	PresenceDir(room string) string
	WritePresenceAtomic(path string, data []byte) error
}

// Tracker manages heartbeat writes and failure counts for malformed
// presence files across rooms.
type Tracker struct {
	st       store
	log      *applog.Logger
	mu       sync.Mutex
	failures map[string]int
}

// New creates a Tracker backed by st.
func New(st store) *Tracker {
	return &Tracker{st: st, log: applog.New("presence"), failures: map[string]int{}}
}

// Heartbeat writes or refreshes the presence file for (user, clientID)
// in room, stamped with the current time.
func (t *Tracker) Heartbeat(room, user, clientID string, now time.Time) error {
	rec := Record{
		Name:     user,
		Color:    "white",
		Status:   "",
		ClientID: clientID,
		Room:     room,
		LastSeen: now.UTC().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(t.st.PresenceDir(room), presenceFileName(clientID))
	return t.st.WritePresenceAtomic(path, data)
}

// presenceFileName is the bare client-id token: a presence file is
// named by client-id alone, not by display name.
func presenceFileName(clientID string) string {
	return clientID
}

// OnlineUsers returns the distinct set of display names with a
// non-stale presence file in room, sorted. Malformed files are
// quarantined after QuarantineThreshold consecutive bad reads and
// otherwise skipped.
func (t *Tracker) OnlineUsers(room string, now time.Time) []string {
	dir := t.stDir(room)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rec, ok := t.readRecord(path)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > StaleAfter {
			continue
		}
		seen[rec.Name] = true
	}

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// OnlineUsersAllRooms aggregates OnlineUsers across every room, keyed
// by client-id (the same client-id can legitimately show up in more
// than one room's presence directory; collapsing by display name
// would wrongly merge two distinct peers sharing a name). The same
// client-id seen in more than one room keeps only the entry with the
// most recent last_seen.
func (t *Tracker) OnlineUsersAllRooms(rooms []string, now time.Time) map[string]time.Time {
	latest := map[string]time.Time{}
	for _, room := range rooms {
		dir := t.stDir(room)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			rec, ok := t.readRecord(path)
			if !ok {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) > StaleAfter {
				continue
			}
			seen := time.Unix(rec.LastSeen, 0)
			if cur, exists := latest[rec.ClientID]; !exists || seen.After(cur) {
				latest[rec.ClientID] = seen
			}
		}
	}
	return latest
}

func (t *Tracker) stDir(room string) string {
	return t.st.PresenceDir(room)
}

// readRecord parses a presence file, tracking consecutive failures per
// path and moving the file into the quarantine subdirectory once
// QuarantineThreshold consecutive failures is reached.
func (t *Tracker) readRecord(path string) (Record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.ClientID == "" {
		t.markFailure(path)
		return Record{}, false
	}
	t.clearFailure(path)
	return rec, true
}

func (t *Tracker) markFailure(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[path]++
	if t.failures[path] >= QuarantineThreshold {
		t.log.Warn("quarantining malformed presence file %s after %d failures", path, t.failures[path])
		t.quarantine(path)
		delete(t.failures, path)
	}
}

// quarantine moves a repeatedly-malformed presence file into a
// quarantine subdirectory of its own presence directory rather than
// deleting it, so it remains available for inspection.
func (t *Tracker) quarantine(path string) {
	dir := filepath.Join(filepath.Dir(path), quarantineDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.log.Warn("could not create quarantine dir %s: %v", dir, err)
		return
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		t.log.Warn("could not quarantine presence file %s: %v", path, err)
	}
}

func (t *Tracker) clearFailure(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, path)
}
