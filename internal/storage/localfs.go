package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a path whose file locking cannot be trusted.
var ErrNetworkFilesystem = errors.New("path is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// RequireLocalFilesystem fails if path, or its nearest existing parent, is on
// a network filesystem. The sqlite queue and the publish lock files both rely
// on local POSIX locking. Platforms without detection always pass.
func RequireLocalFilesystem(path string) error {
	return requireLocal(path, filesystemType)
}

func requireLocal(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return err
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if _, ok := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]; ok {
		return fmt.Errorf("%w: %s (%s)", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// nearestExisting walks up from path to the first entry that exists.
func nearestExisting(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		p = parent
	}
}
