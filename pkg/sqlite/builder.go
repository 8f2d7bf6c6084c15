// Package sqlite builds the client-side query databases (primary_db,
// filelists_db, other_db) from the XML descriptors. Each database is
// rebuilt from scratch on every mutation; nothing is updated in place,
// so the XML remains the single source of truth.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/yumsync/yumsync/pkg/metadata"
)

const primarySchema = `
CREATE TABLE db_info (
    dbversion INTEGER,
    checksum TEXT
);
CREATE TABLE packages (
    pkgKey INTEGER PRIMARY KEY,
    pkgId TEXT,
    name TEXT,
    arch TEXT,
    version TEXT,
    epoch TEXT,
    release TEXT,
    summary TEXT,
    description TEXT,
    url TEXT,
    time_file INTEGER,
    time_build INTEGER,
    rpm_license TEXT,
    rpm_vendor TEXT,
    rpm_group TEXT,
    rpm_buildhost TEXT,
    rpm_sourcerpm TEXT,
    rpm_header_start INTEGER,
    rpm_header_end INTEGER,
    rpm_packager TEXT,
    size_package INTEGER,
    size_installed INTEGER,
    size_archive INTEGER,
    location_href TEXT,
    location_base TEXT,
    checksum_type TEXT
);
CREATE TABLE provides (
    pkgKey INTEGER,
    name TEXT,
    flags TEXT,
    epoch TEXT,
    version TEXT,
    release TEXT,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
CREATE TABLE requires (
    pkgKey INTEGER,
    name TEXT,
    flags TEXT,
    epoch TEXT,
    version TEXT,
    release TEXT,
    pre BOOLEAN,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
CREATE TABLE conflicts (
    pkgKey INTEGER,
    name TEXT,
    flags TEXT,
    epoch TEXT,
    version TEXT,
    release TEXT,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
CREATE TABLE obsoletes (
    pkgKey INTEGER,
    name TEXT,
    flags TEXT,
    epoch TEXT,
    version TEXT,
    release TEXT,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
CREATE TABLE files (
    pkgKey INTEGER,
    name TEXT,
    type TEXT,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
`

const filelistsSchema = `
CREATE TABLE db_info (
    dbversion INTEGER,
    checksum TEXT
);
CREATE TABLE packages (
    pkgKey INTEGER PRIMARY KEY,
    pkgId TEXT
);
CREATE TABLE filelist (
    pkgKey INTEGER,
    dirname TEXT,
    filenames TEXT,
    filetypes TEXT,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
`

const otherSchema = `
CREATE TABLE db_info (
    dbversion INTEGER,
    checksum TEXT
);
CREATE TABLE packages (
    pkgKey INTEGER PRIMARY KEY,
    pkgId TEXT
);
CREATE TABLE changelog (
    pkgKey INTEGER,
    author TEXT,
    date INTEGER,
    changelog TEXT,
    FOREIGN KEY(pkgKey) REFERENCES packages(pkgKey)
);
`

// BuildAll builds one database per descriptor present in the set and
// returns database type -> file path. Files are written under dir as
// <type>.sqlite; compression and checksum naming happen downstream.
func BuildAll(dir string, set metadata.DescriptorSet) (map[string]string, error) {
	out := make(map[string]string)
	if set.Primary != nil {
		doc, err := metadata.ParsePrimary(set.Primary)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(dir, "primary_db.sqlite")
		if err := BuildPrimaryDB(p, doc.Packages); err != nil {
			return nil, fmt.Errorf("build primary_db: %w", err)
		}
		out["primary_db"] = p
	}
	if set.Filelists != nil {
		doc, err := metadata.ParseFilelists(set.Filelists)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(dir, "filelists_db.sqlite")
		if err := BuildFilelistsDB(p, doc.Packages); err != nil {
			return nil, fmt.Errorf("build filelists_db: %w", err)
		}
		out["filelists_db"] = p
	}
	if set.Other != nil {
		doc, err := metadata.ParseOther(set.Other)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(dir, "other_db.sqlite")
		if err := BuildOtherDB(p, doc.Packages); err != nil {
			return nil, fmt.Errorf("build other_db: %w", err)
		}
		out["other_db"] = p
	}
	return out, nil
}

func createDB(path, schema string) (*sql.DB, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`INSERT INTO db_info VALUES (?, ?)`, metadata.DBVersion, ""); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// BuildPrimaryDB writes the primary database. pkgKey is a 1-based
// sequence over document order; the files table exists for schema
// compatibility but file content lives in filelists_db.
func BuildPrimaryDB(path string, pkgs []metadata.Package) error {
	db, err := createDB(path, primarySchema)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertPkg, err := tx.Prepare(`
        INSERT INTO packages (
            pkgKey, pkgId, name, arch, version, epoch, release,
            summary, description, url, time_file, time_build,
            rpm_license, rpm_vendor, rpm_group, rpm_buildhost,
            rpm_sourcerpm, rpm_header_start, rpm_header_end,
            rpm_packager, size_package, size_installed, size_archive,
            location_href, checksum_type
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertPkg.Close()

	for i, p := range pkgs {
		pkgKey := i + 1
		checksumType := p.ChecksumType
		if checksumType == "" {
			checksumType = "sha256"
		}
		_, err := insertPkg.Exec(
			pkgKey, p.PkgID, p.Name, p.Arch, p.Version, strconv.Itoa(p.Epoch), p.Release,
			p.Summary, p.Description, p.URL, p.TimeFile, p.TimeBuild,
			p.License, p.Vendor, p.Group, p.BuildHost,
			p.SourceRPM, p.HeaderStart, p.HeaderEnd,
			p.Packager, p.SizePackage, p.SizeInstalled, p.SizeArchive,
			p.Location, checksumType,
		)
		if err != nil {
			return err
		}
		if err := insertRelations(tx, "provides", pkgKey, p.Provides); err != nil {
			return err
		}
		if err := insertRequires(tx, pkgKey, p.Requires); err != nil {
			return err
		}
		if err := insertRelations(tx, "conflicts", pkgKey, p.Conflicts); err != nil {
			return err
		}
		if err := insertRelations(tx, "obsoletes", pkgKey, p.Obsoletes); err != nil {
			return err
		}
	}

	for _, idx := range []string{
		`CREATE INDEX packagename ON packages (name)`,
		`CREATE INDEX packageId ON packages (pkgId)`,
		`CREATE INDEX providesname ON provides (name)`,
		`CREATE INDEX requiresname ON requires (name)`,
	} {
		if _, err := tx.Exec(idx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertRelations(tx *sql.Tx, table string, pkgKey int, rels []metadata.Relation) error {
	for _, r := range rels {
		_, err := tx.Exec(
			`INSERT INTO `+table+` (pkgKey, name, flags, epoch, version, release) VALUES (?, ?, ?, ?, ?, ?)`,
			pkgKey, r.Name, r.Flags, relationEpoch(r), r.Ver, r.Rel,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertRequires(tx *sql.Tx, pkgKey int, rels []metadata.Relation) error {
	for _, r := range rels {
		_, err := tx.Exec(
			`INSERT INTO requires (pkgKey, name, flags, epoch, version, release, pre) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			pkgKey, r.Name, r.Flags, relationEpoch(r), r.Ver, r.Rel, r.Pre,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Unversioned relations carry an empty epoch string, matching what
// createrepo emits.
func relationEpoch(r metadata.Relation) string {
	if r.Ver == "" {
		return ""
	}
	return strconv.Itoa(r.Epoch)
}

// BuildFilelistsDB writes the filelists database. File names within a
// directory collapse to one row of '/'-joined parallel lists.
func BuildFilelistsDB(path string, entries []metadata.FilelistsEntry) error {
	db, err := createDB(path, filelistsSchema)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, e := range entries {
		pkgKey := i + 1
		if _, err := tx.Exec(`INSERT INTO packages (pkgKey, pkgId) VALUES (?, ?)`, pkgKey, e.PkgID); err != nil {
			return err
		}
		for _, row := range groupFilesByDir(e.Files) {
			_, err := tx.Exec(
				`INSERT INTO filelist (pkgKey, dirname, filenames, filetypes) VALUES (?, ?, ?, ?)`,
				pkgKey, row.dirname, row.filenames, row.filetypes,
			)
			if err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(`CREATE INDEX keyfile ON filelist (pkgKey)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX pkgId ON packages (pkgId)`); err != nil {
		return err
	}
	return tx.Commit()
}

type filelistRow struct {
	dirname   string
	filenames string
	filetypes string
}

func groupFilesByDir(files []metadata.File) []filelistRow {
	type group struct {
		names []string
		types []string
	}
	byDir := make(map[string]*group)
	var order []string
	for _, f := range files {
		dir := path.Dir(f.Path)
		if dir == "." || dir == "" {
			dir = "/"
		}
		g := byDir[dir]
		if g == nil {
			g = &group{}
			byDir[dir] = g
			order = append(order, dir)
		}
		g.names = append(g.names, path.Base(f.Path))
		g.types = append(g.types, f.Type)
	}
	rows := make([]filelistRow, 0, len(order))
	for _, dir := range order {
		g := byDir[dir]
		rows = append(rows, filelistRow{
			dirname:   dir,
			filenames: strings.Join(g.names, "/"),
			filetypes: strings.Join(g.types, "/"),
		})
	}
	return rows
}

// BuildOtherDB writes the changelog database.
func BuildOtherDB(path string, entries []metadata.OtherEntry) error {
	db, err := createDB(path, otherSchema)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, e := range entries {
		pkgKey := i + 1
		if _, err := tx.Exec(`INSERT INTO packages (pkgKey, pkgId) VALUES (?, ?)`, pkgKey, e.PkgID); err != nil {
			return err
		}
		for _, c := range e.Changelogs {
			_, err := tx.Exec(
				`INSERT INTO changelog (pkgKey, author, date, changelog) VALUES (?, ?, ?, ?)`,
				pkgKey, c.Author, c.Date, c.Text,
			)
			if err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(`CREATE INDEX keychange ON changelog (pkgKey)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX pkgId ON packages (pkgId)`); err != nil {
		return err
	}
	return tx.Commit()
}
