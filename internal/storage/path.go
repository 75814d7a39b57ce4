package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// TableInfoKey is the catalog record location for one source file index.
func TableInfoKey(prefix string, index int, tableName string) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("table index must be >= 0")
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return joinPrefix(prefix, fmt.Sprintf("%d_%s.json", index, tableName)), nil
}

// TableInfoIndexPrefix matches every record stored for index, whatever its name.
func TableInfoIndexPrefix(prefix string, index int) string {
	return joinPrefix(prefix, strconv.Itoa(index)+"_")
}

// ParseTableInfoKey splits "<index>_<name>.json" back into its parts.
func ParseTableInfoKey(key string) (int, string, bool) {
	base := path.Base(key)
	if !strings.HasSuffix(base, ".json") {
		return 0, "", false
	}
	base = strings.TrimSuffix(base, ".json")
	rawIndex, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", false
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil || index < 0 {
		return 0, "", false
	}
	return index, name, true
}

func IndexSnapshotKey(prefix, tableName string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return joinPrefix(prefix, tableName+".parquet"), nil
}

func joinPrefix(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
