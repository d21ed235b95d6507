package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// VersionLayout formats migration versions; versions sort by creation time
const VersionLayout = "20060102150405"

// ErrUnpairedMigration is returned when an up migration has no down file, or the reverse
var ErrUnpairedMigration = errors.New("migration: up and down files must come in pairs")

var fileNameRE = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

var headerTemplate = template.Must(template.New("migration").Parse(
	`-- Migration: {{.Name}}{{if .Down}} (Rollback){{end}}
-- Created: {{.Created}}
-- Description: {{if .Down}}Rollback for {{end}}{{.Description}}

`))

// Migration is one up/down pair of a migration source
type Migration struct {
	Version uint
	Name    string
}

// FileName returns the base name shared by the pair
func (m Migration) FileName() string {
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

// ListMigrations returns the migrations of a source in version order. Files
// that do not look like migrations are ignored; a version without both an up
// and a down file is an error.
func ListMigrations(source fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	type pair struct {
		name     string
		up, down bool
	}
	byVersion := make(map[uint]*pair)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNameRE.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.ParseUint(match[1], 10, 0)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		p, ok := byVersion[uint(version)]
		if !ok {
			p = &pair{name: match[2]}
			byVersion[uint(version)] = p
		}
		if p.name != match[2] {
			return nil, fmt.Errorf("migration: version %d is used by %s and %s", version, p.name, match[2])
		}
		if match[3] == "up" {
			p.up = true
		} else {
			p.down = true
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for version, p := range byVersion {
		if !p.up || !p.down {
			return nil, fmt.Errorf("%w: %d_%s", ErrUnpairedMigration, version, p.name)
		}
		out = append(out, Migration{Version: version, Name: p.name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// CreateMigration writes an empty up/down pair into dir, versioned at now
// (UTC) and headed like the existing migrations. It refuses to overwrite
// files and to create a version older than the latest one in dir.
func CreateMigration(dir, name, description string, now time.Time) (*Migration, error) {
	name = sanitizeName(name)
	if name == "" {
		return nil, errors.New("migration: name must contain letters or digits")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations directory: %w", err)
	}
	existing, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	version, err := strconv.ParseUint(now.Format(VersionLayout), 10, 0)
	if err != nil {
		return nil, err
	}
	mig := &Migration{Version: uint(version), Name: name}
	if n := len(existing); n > 0 && existing[n-1].Version >= mig.Version {
		return nil, fmt.Errorf("migration: version %d is not after the latest migration %s", mig.Version, existing[n-1].FileName())
	}
	if description == "" {
		description = strings.ReplaceAll(name, "_", " ")
	}

	upPath := filepath.Join(dir, mig.FileName()+".up.sql")
	downPath := filepath.Join(dir, mig.FileName()+".down.sql")
	header := map[string]any{"Name": name, "Created": now.Format(time.RFC3339), "Description": description}
	if err := writeHeader(upPath, header, false); err != nil {
		return nil, err
	}
	if err := writeHeader(downPath, header, true); err != nil {
		_ = os.Remove(upPath)
		return nil, err
	}
	return mig, nil
}

func writeHeader(path string, data map[string]any, down bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	data["Down"] = down
	err = headerTemplate.Execute(f, data)
	return errors.Join(err, f.Close())
}

// sanitizeName lowercases a migration name and joins its words with underscores
func sanitizeName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			pendingSep = true
		}
	}
	return b.String()
}
