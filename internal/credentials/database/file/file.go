package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/OliverSchlueter/pgpmail/internal/credentials"
	"github.com/google/renameio/v2"
)

// DB persists a single credential as JSON. Writes replace the file atomically
// and always leave it readable by the owner only.
type DB struct {
	path string
}

func NewDB(path string) *DB {
	return &DB{path: path}
}

func (db *DB) Get() (*credentials.Credential, error) {
	data, err := os.ReadFile(db.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, credentials.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("could not read %s: %w", db.path, err)
	}

	var c credentials.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", credentials.ErrCorruptCredential, db.path, err)
	}
	return &c, nil
}

func (db *DB) Put(c credentials.Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	f, err := renameio.NewPendingFile(db.path, renameio.WithStaticPermissions(0o600))
	if err != nil {
		return fmt.Errorf("could not create temporary file for %s: %w", db.path, err)
	}
	defer func() {
		_ = f.Cleanup()
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("could not replace %s: %w", db.path, err)
	}
	return nil
}
