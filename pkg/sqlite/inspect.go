package sqlite

import (
	"database/sql"
	"fmt"
)

// SchemaVersion reads db_info.dbversion from a database file.
func SchemaVersion(path string) (int, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	var version int
	if err := db.QueryRow(`SELECT dbversion FROM db_info`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read db_info: %w", err)
	}
	return version, nil
}

// PackageCount returns the number of rows in the packages table.
func PackageCount(path string) (int, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM packages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return count, nil
}

// PackageNames returns packages.name in pkgKey order. Only the primary
// database carries a name column.
func PackageNames(path string) ([]string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.Query(`SELECT name FROM packages ORDER BY pkgKey`)
	if err != nil {
		return nil, fmt.Errorf("read package names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PackageIDs returns packages.pkgId in pkgKey order; works on all three
// databases.
func PackageIDs(path string) ([]string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.Query(`SELECT pkgId FROM packages ORDER BY pkgKey`)
	if err != nil {
		return nil, fmt.Errorf("read package ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasTable reports whether the database contains the named table.
func HasTable(path, table string) (bool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false, err
	}
	defer db.Close()
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
