// Package serialization exports metadata tables to JSON for backup and
// inspection via the admin API.
package serialization

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ExportVersion is bumped when the export envelope shape changes.
const ExportVersion = 1

// AllTables lists all exported table names in dependency order.
var AllTables = []string{"access_keys", "buckets", "objects", "multipart_uploads", "multipart_parts"}

// jsonFields are columns that store JSON strings to be expanded inline.
var jsonFields = map[string]bool{"user_metadata": true}

// boolFields are columns that store integer booleans.
var boolFields = map[string]bool{"active": true}

// tableColumns defines column order for each table.
var tableColumns = map[string][]string{
	"access_keys":       {"access_key_id", "secret_key", "display_name", "active", "created_at", "updated_at"},
	"buckets":           {"name", "owner_id", "region", "acl", "max_size", "created_at"},
	"objects":           {"bucket", "key", "size", "etag", "content_type", "storage_path", "user_metadata", "last_modified", "created_at"},
	"multipart_uploads": {"upload_id", "bucket", "key", "content_type", "user_metadata", "initiated_at"},
	"multipart_parts":   {"upload_id", "part_number", "size", "etag", "storage_path", "created_at"},
}

// tableOrderBy gives each table a deterministic export order.
var tableOrderBy = map[string]string{
	"access_keys":       "access_key_id",
	"buckets":           "name",
	"objects":           "bucket, key",
	"multipart_uploads": "upload_id",
	"multipart_parts":   "upload_id, part_number",
}

// ExportOptions configures what to export.
type ExportOptions struct {
	Tables             []string
	IncludeCredentials bool
}

// ExportMetadata exports metadata from the given database handle to JSON.
// The export queries carry no placeholders, so both metadata engines are
// supported.
func ExportMetadata(ctx context.Context, db *sql.DB, opts *ExportOptions) ([]byte, error) {
	if opts == nil {
		opts = &ExportOptions{Tables: AllTables}
	}
	if len(opts.Tables) == 0 {
		opts.Tables = AllTables
	}

	result := map[string]any{
		"strongroom_export": map[string]any{
			"version":     ExportVersion,
			"exported_at": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		},
	}

	for _, table := range opts.Tables {
		columns, ok := tableColumns[table]
		if !ok {
			continue
		}
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
			columnList(columns), table, tableOrderBy[table])
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", table, err)
		}

		tableRows := make([]map[string]any, 0)
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s row: %w", table, err)
			}

			row := make(map[string]any, len(columns))
			for i, col := range columns {
				row[col] = convertValue(col, values[i])
			}

			if table == "access_keys" && !opts.IncludeCredentials {
				row["secret_key"] = "REDACTED"
			}

			tableRows = append(tableRows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating %s: %w", table, err)
		}

		result[table] = tableRows
	}

	return marshalSorted(result)
}

// columnList joins column names, quoting "key" which is reserved in
// PostgreSQL.
func columnList(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		if c == "key" {
			out += `"key"`
		} else {
			out += c
		}
	}
	return out
}

// convertValue maps a scanned database value to its JSON representation.
func convertValue(col string, val any) any {
	if val == nil {
		return nil
	}
	if jsonFields[col] {
		s, ok := val.(string)
		if !ok {
			if b, ok := val.([]byte); ok {
				s = string(b)
			} else {
				return map[string]any{}
			}
		}
		var obj any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return map[string]any{}
		}
		return obj
	}
	if boolFields[col] {
		switch v := val.(type) {
		case int64:
			return v != 0
		case float64:
			return v != 0
		case bool:
			return v
		default:
			return false
		}
	}
	// sql drivers may return []byte for TEXT columns.
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

// marshalSorted produces JSON with sorted keys, 2-space indent.
func marshalSorted(data map[string]any) ([]byte, error) {
	return json.MarshalIndent(sortedMap(data), "", "  ")
}

// sortedMap is a map that marshals with sorted keys.
type sortedMap map[string]any

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')

		valBytes, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func marshalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return sortedMap(val).MarshalJSON()
	case []any:
		buf := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			b, err := marshalValue(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(v)
	}
}
