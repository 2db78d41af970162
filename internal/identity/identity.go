// Package identity holds the local TorChat identity: the 16-character id of
// our hidden service and the cookies used to authenticate peers.
package identity

import (
	"bufio"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IDLength is the length of a TorChat id (a v2 onion address without the
// ".onion" suffix).
const IDLength = 16

const cookieBytes = 48

var ErrInvalidID = errors.New("identity: invalid id")

var cookieEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ValidID reports whether id can name a peer. Only the length is checked.
func ValidID(id string) bool {
	return len(id) == IDLength
}

// NewCookie returns a fresh random token. Cookies never contain spaces so
// they always fit in a single protocol field.
func NewCookie() (string, error) {
	b := make([]byte, cookieBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return strings.ToLower(cookieEncoding.EncodeToString(b)), nil
}

// FromHostname reads the id from a Tor hidden service "hostname" file,
// which holds "<id>.onion".
func FromHostname(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("identity: %s is empty", path)
	}
	id := strings.TrimSuffix(strings.TrimSpace(sc.Text()), ".onion")
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q in %s", ErrInvalidID, id, path)
	}
	return id, nil
}

// Identity is the persisted description of the local node.
type Identity struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
}

// New returns an Identity for id.
func New(id string) (*Identity, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return &Identity{ID: id, Created: time.Now().Unix()}, nil
}

func (i *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(i)
}

func Load(path string) (*Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	i := &Identity{}
	if err := json.NewDecoder(f).Decode(i); err != nil {
		return nil, err
	}
	if !ValidID(i.ID) {
		return nil, fmt.Errorf("%w: %q in %s", ErrInvalidID, i.ID, path)
	}
	return i, nil
}
