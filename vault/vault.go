// Package vault provides scoped markdown I/O for the notebook: atomic
// writes, frontmatter handling, and the per-day log file convention.
package vault

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"

	"hivehub.dev/common"
	"hivehub.dev/fault"
)

// searchScanLimit bounds how much of each file a body search reads.
const searchScanLimit = 256 * 1024

// NoteInfo describes one note without its content.
type NoteInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`

	// Match reports what a search hit: name or body.
	Match string `json:"match,omitempty"`
}

// Vault is a filesystem-rooted notebook. Writes on the same note are
// serialized per path; different notes proceed in parallel.
type Vault struct {
	root       string
	logsFolder string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (creating if needed) a vault at root. A leading ~ expands to
// the user home directory. logsFolder is the vault-relative folder for
// daily log files; empty means the vault root.
func New(root, logsFolder string) (*Vault, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return nil, fault.Invalid("invalid vault root %q: %v", root, err)
	}
	expanded, err = filepath.Abs(expanded)
	if err != nil {
		return nil, fault.Invalid("invalid vault root %q: %v", root, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fault.Unavailable(err, "cannot create vault root %s", expanded)
	}

	common.Logger.WithFields(logrus.Fields{"root": expanded}).Info("Vault opened")

	return &Vault{
		root:       expanded,
		logsFolder: strings.Trim(filepath.ToSlash(logsFolder), "/"),
		locks:      map[string]*sync.Mutex{},
	}, nil
}

// Root returns the absolute vault root.
func (v *Vault) Root() string {
	return v.root
}

// EnsureWritable verifies the vault root exists and accepts writes.
func (v *Vault) EnsureWritable() error {
	if err := os.MkdirAll(v.root, 0o755); err != nil {
		return fault.Unavailable(err, "vault root %s is not writable", v.root)
	}
	probe, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return fault.Unavailable(err, "vault root %s is not writable", v.root)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// cleanName normalizes a note name to a vault-relative markdown path and
// rejects anything escaping the root.
func (v *Vault) cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fault.Invalid("note name must not be empty")
	}
	if filepath.IsAbs(name) {
		return "", fault.Invalid("note name must be relative, got %q", name)
	}
	if filepath.Ext(name) == "" {
		name += ".md"
	}
	cleaned := filepath.Clean(filepath.ToSlash(name))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fault.Invalid("note name %q escapes the vault", name)
	}
	return cleaned, nil
}

// pathLock returns the mutex serializing writes for one note.
func (v *Vault) pathLock(name string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[name] = lock
	}
	return lock
}

// Write atomically replaces the note's content, prepending the optional
// frontmatter block. Returns the normalized note name.
func (v *Vault) Write(name, body string, fm *Frontmatter) (string, error) {
	name, err := v.cleanName(name)
	if err != nil {
		return "", err
	}

	head, err := fm.Render()
	if err != nil {
		return "", err
	}

	lock := v.pathLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := v.writeAtomic(name, []byte(head+body)); err != nil {
		return "", err
	}
	return name, nil
}

// Append concatenates body onto the note with a blank-line separator,
// creating the note when absent. Returns the normalized note name.
func (v *Vault) Append(name, body string) (string, error) {
	name, err := v.cleanName(name)
	if err != nil {
		return "", err
	}

	lock := v.pathLock(name)
	lock.Lock()
	defer lock.Unlock()

	existing, err := os.ReadFile(v.abs(name))
	switch {
	case err == nil:
		content := strings.TrimRight(string(existing), "\n") + "\n\n" + body
		return name, v.writeAtomic(name, []byte(content))
	case os.IsNotExist(err):
		return name, v.writeAtomic(name, []byte(body))
	default:
		return "", fault.Unexpected(err, "cannot read note %s", name)
	}
}

// Read returns the note's frontmatter and body. Missing notes yield
// NotFound.
func (v *Vault) Read(name string) (*Frontmatter, string, error) {
	name, err := v.cleanName(name)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(v.abs(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fault.Missing("note %s not found", name)
		}
		return nil, "", fault.Unexpected(err, "cannot read note %s", name)
	}

	return ParseFrontmatter(string(data))
}

// Exists reports whether the note is present.
func (v *Vault) Exists(name string) bool {
	name, err := v.cleanName(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(v.abs(name))
	return err == nil
}

// List returns up to limit notes ordered by modification time. order is
// newest or oldest; empty means newest.
func (v *Vault) List(limit int, order string) ([]NoteInfo, error) {
	switch order {
	case "", "newest", "oldest":
	default:
		return nil, fault.Invalid("order must be newest or oldest, got %q", order)
	}

	notes, err := v.scan()
	if err != nil {
		return nil, err
	}

	sort.Slice(notes, func(i, j int) bool {
		if order == "oldest" {
			return notes[i].ModifiedAt.Before(notes[j].ModifiedAt)
		}
		return notes[i].ModifiedAt.After(notes[j].ModifiedAt)
	})

	if limit > 0 && len(notes) > limit {
		notes = notes[:limit]
	}
	return notes, nil
}

// Search matches query against note names, and against body content when
// searchBody is set. The body scan is bounded per file.
func (v *Vault) Search(query string, searchBody bool, limit int) ([]NoteInfo, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fault.Invalid("search query must not be empty")
	}

	notes, err := v.scan()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	matches := []NoteInfo{}
	for _, note := range notes {
		if strings.Contains(strings.ToLower(note.Name), needle) {
			note.Match = "name"
			matches = append(matches, note)
			continue
		}
		if !searchBody {
			continue
		}
		if v.bodyContains(note.Name, needle) {
			note.Match = "body"
			matches = append(matches, note)
		}
		if limit > 0 && len(matches) >= limit {
			break
		}
	}

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (v *Vault) bodyContains(name, needle string) bool {
	f, err := os.Open(v.abs(name))
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, searchScanLimit)
	n, _ := f.Read(buf)
	return strings.Contains(strings.ToLower(string(buf[:n])), needle)
}

// scan walks the vault collecting markdown files as vault-relative names.
func (v *Vault) scan() ([]NoteInfo, error) {
	notes := []NoteInfo{}
	err := filepath.Walk(v.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(info.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return nil
		}
		notes = append(notes, NoteInfo{
			Name:       filepath.ToSlash(rel),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fault.Unexpected(err, "cannot scan vault")
	}
	return notes, nil
}

func (v *Vault) abs(name string) string {
	return filepath.Join(v.root, filepath.FromSlash(name))
}

// writeAtomic writes via a temp file in the target directory plus rename,
// so readers never observe a torn note.
func (v *Vault) writeAtomic(name string, data []byte) error {
	target := v.abs(name)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Unavailable(err, "cannot create folder for note %s", name)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fault.Unavailable(err, "cannot write note %s", name)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fault.Unexpected(err, "cannot write note %s", name)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fault.Unexpected(err, "cannot write note %s", name)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fault.Unexpected(err, "cannot write note %s", name)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fault.Unexpected(err, "cannot write note %s", name)
	}
	return nil
}
