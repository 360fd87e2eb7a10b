package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeFormat is the ISO 8601 format used for all timestamps in the database.
// Both engines store timestamps as TEXT so the scan code is shared.
const timeFormat = "2006-01-02T15:04:05.000Z"

// sqlStore is the shared MetadataStore implementation over database/sql.
// The flavor selects placeholder style and upsert syntax; everything else is
// identical between SQLite and PostgreSQL.
type sqlStore struct {
	db     *sql.DB
	flavor string // "sqlite" or "postgres"
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if s.flavor != "postgres" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		} else {
			sb.WriteByte(query[i])
		}
	}
	return sb.String()
}

// upsert returns an INSERT statement that replaces the row identified by the
// conflict columns.
func (s *sqlStore) upsert(table string, columns, conflict []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	if s.flavor == "postgres" {
		var sets []string
		for _, c := range columns {
			skip := false
			for _, k := range conflict {
				if c == k {
					skip = true
					break
				}
			}
			if !skip {
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
			}
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			table, strings.Join(columns, ", "), placeholders,
			strings.Join(conflict, ", "), strings.Join(sets, ", "))
	}
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)
}

// Close closes the underlying database connection.
func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity to the database.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Bucket operations ----

// CreateBucket creates a new bucket record.
func (s *sqlStore) CreateBucket(ctx context.Context, bucket *BucketRecord) error {
	acl := bucket.ACL
	if acl == "" {
		acl = "private"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO buckets (name, owner_id, region, acl, max_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		bucket.Name,
		bucket.OwnerID,
		bucket.Region,
		acl,
		bucket.MaxSize,
		bucket.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("bucket already exists: %s", bucket.Name)
		}
		return fmt.Errorf("creating bucket %q: %w", bucket.Name, err)
	}
	return nil
}

// GetBucket retrieves bucket metadata by name.
func (s *sqlStore) GetBucket(ctx context.Context, name string) (*BucketRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT name, owner_id, region, acl, max_size, created_at
		 FROM buckets WHERE name = ?`),
		name,
	)

	var b BucketRecord
	var createdAtStr string
	err := row.Scan(&b.Name, &b.OwnerID, &b.Region, &b.ACL, &b.MaxSize, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bucket %q: %w", name, err)
	}
	b.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &b, nil
}

// DeleteBucket removes the named bucket row.
func (s *sqlStore) DeleteBucket(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM buckets WHERE name = ?`), name,
	)
	if err != nil {
		return fmt.Errorf("deleting bucket %q: %w", name, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("bucket not found: %s", name)
	}
	return nil
}

// ListBuckets returns all buckets in the store, ordered by name.
func (s *sqlStore) ListBuckets(ctx context.Context) ([]BucketRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, owner_id, region, acl, max_size, created_at
		 FROM buckets ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer rows.Close()

	var buckets []BucketRecord
	for rows.Next() {
		var b BucketRecord
		var createdAtStr string
		if err := rows.Scan(&b.Name, &b.OwnerID, &b.Region, &b.ACL, &b.MaxSize, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		b.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bucket rows: %w", err)
	}
	return buckets, nil
}

// CountObjects returns the number of objects in the named bucket.
func (s *sqlStore) CountObjects(ctx context.Context, bucket string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM objects WHERE bucket = ?`), bucket,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting objects in %q: %w", bucket, err)
	}
	return count, nil
}

// ---- Object operations ----

// objectColumns is the column order shared by all object queries.
const objectColumns = `bucket, key, size, etag, content_type, storage_path, user_metadata, last_modified, created_at`

// PutObject creates or replaces the metadata for an object.
func (s *sqlStore) PutObject(ctx context.Context, obj *ObjectRecord) error {
	userMeta, err := marshalUserMetadata(obj.UserMetadata)
	if err != nil {
		return err
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	query := s.upsert("objects",
		[]string{"bucket", "key", "size", "etag", "content_type", "storage_path", "user_metadata", "last_modified", "created_at"},
		[]string{"bucket", "key"})

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		obj.Bucket,
		obj.Key,
		obj.Size,
		obj.ETag,
		contentType,
		obj.StoragePath,
		userMeta,
		obj.LastModified.UTC().Format(timeFormat),
		obj.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting object %q/%q: %w", obj.Bucket, obj.Key, err)
	}
	return nil
}

// GetObject retrieves object metadata by bucket and key.
func (s *sqlStore) GetObject(ctx context.Context, bucket, key string) (*ObjectRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+objectColumns+` FROM objects WHERE bucket = ? AND key = ?`),
		bucket, key,
	)

	obj, err := scanObject(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q/%q: %w", bucket, key, err)
	}
	return obj, nil
}

// DeleteObject removes object metadata by bucket and key.
func (s *sqlStore) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM objects WHERE bucket = ? AND key = ?`),
		bucket, key,
	)
	if err != nil {
		return fmt.Errorf("deleting object %q/%q: %w", bucket, key, err)
	}
	return nil
}

// ListObjects returns one key-ordered page of objects matching the options.
// It fetches MaxKeys+1 rows to determine truncation.
func (s *sqlStore) ListObjects(ctx context.Context, bucket string, opts ListObjectsOptions) (*ListObjectsResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 || maxKeys > 1000 {
		maxKeys = 1000
	}

	var args []interface{}
	query := `SELECT ` + objectColumns + ` FROM objects WHERE bucket = ?`
	args = append(args, bucket)

	if opts.Prefix != "" {
		query += ` AND key LIKE ? ESCAPE '\'`
		args = append(args, escapeLikePattern(opts.Prefix)+"%")
	}

	if opts.StartAfter != "" {
		query += ` AND key > ?`
		args = append(args, opts.StartAfter)
	}

	query += ` ORDER BY key LIMIT ` + strconv.Itoa(maxKeys+1)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing objects in %q: %w", bucket, err)
	}
	defer rows.Close()

	var objects []ObjectRecord
	for rows.Next() {
		obj, err := scanObject(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		objects = append(objects, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}

	isTruncated := len(objects) > maxKeys
	if isTruncated {
		objects = objects[:maxKeys]
	}

	result := &ListObjectsResult{
		Objects:     objects,
		IsTruncated: isTruncated,
	}
	if isTruncated && len(objects) > 0 {
		result.NextContinuationToken = objects[len(objects)-1].Key
	}
	return result, nil
}

// ---- Multipart upload operations ----

// CreateMultipartUpload persists a new multipart upload record.
func (s *sqlStore) CreateMultipartUpload(ctx context.Context, upload *MultipartUploadRecord) error {
	userMeta, err := marshalUserMetadata(upload.UserMetadata)
	if err != nil {
		return err
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO multipart_uploads
			(upload_id, bucket, key, content_type, user_metadata, initiated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		upload.UploadID,
		upload.Bucket,
		upload.Key,
		contentType,
		userMeta,
		upload.InitiatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("creating multipart upload %q: %w", upload.UploadID, err)
	}
	return nil
}

// GetMultipartUpload retrieves an upload by its ID.
func (s *sqlStore) GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUploadRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT upload_id, bucket, key, content_type, user_metadata, initiated_at
		 FROM multipart_uploads WHERE upload_id = ?`),
		uploadID,
	)

	var u MultipartUploadRecord
	var userMetaStr, initiatedAtStr string
	err := row.Scan(&u.UploadID, &u.Bucket, &u.Key, &u.ContentType, &userMetaStr, &initiatedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting multipart upload %q: %w", uploadID, err)
	}
	u.UserMetadata = unmarshalUserMetadata(userMetaStr)
	u.InitiatedAt, _ = time.Parse(timeFormat, initiatedAtStr)
	return &u, nil
}

// PutPart records metadata for an uploaded part, overwriting any previous
// part with the same number.
func (s *sqlStore) PutPart(ctx context.Context, part *PartRecord) error {
	query := s.upsert("multipart_parts",
		[]string{"upload_id", "part_number", "size", "etag", "storage_path", "created_at"},
		[]string{"upload_id", "part_number"})

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		part.UploadID,
		part.PartNumber,
		part.Size,
		part.ETag,
		part.StoragePath,
		part.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting part %d for upload %q: %w", part.PartNumber, part.UploadID, err)
	}
	return nil
}

// ListParts returns all parts for the upload, ordered by part number.
func (s *sqlStore) ListParts(ctx context.Context, uploadID string) ([]PartRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT upload_id, part_number, size, etag, storage_path, created_at
		 FROM multipart_parts WHERE upload_id = ?
		 ORDER BY part_number`),
		uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing parts for upload %q: %w", uploadID, err)
	}
	defer rows.Close()

	var parts []PartRecord
	for rows.Next() {
		var p PartRecord
		var createdAtStr string
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.Size, &p.ETag, &p.StoragePath, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning part row: %w", err)
		}
		p.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating part rows: %w", err)
	}
	return parts, nil
}

// CompleteMultipartUpload finalizes a multipart upload in one transaction:
// upserts the final object record and deletes the upload and its parts.
func (s *sqlStore) CompleteMultipartUpload(ctx context.Context, uploadID string, obj *ObjectRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	userMeta, err := marshalUserMetadata(obj.UserMetadata)
	if err != nil {
		return err
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	query := s.upsert("objects",
		[]string{"bucket", "key", "size", "etag", "content_type", "storage_path", "user_metadata", "last_modified", "created_at"},
		[]string{"bucket", "key"})

	_, err = tx.ExecContext(ctx, s.rebind(query),
		obj.Bucket, obj.Key, obj.Size, obj.ETag, contentType, obj.StoragePath,
		userMeta,
		obj.LastModified.UTC().Format(timeFormat),
		obj.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting object during completion: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM multipart_parts WHERE upload_id = ?`), uploadID); err != nil {
		return fmt.Errorf("deleting parts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM multipart_uploads WHERE upload_id = ?`), uploadID); err != nil {
		return fmt.Errorf("deleting upload record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AbortMultipartUpload deletes the upload record and all its part records.
func (s *sqlStore) AbortMultipartUpload(ctx context.Context, uploadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM multipart_parts WHERE upload_id = ?`), uploadID); err != nil {
		return fmt.Errorf("deleting parts: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM multipart_uploads WHERE upload_id = ?`), uploadID)
	if err != nil {
		return fmt.Errorf("deleting upload record: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("upload not found: %s", uploadID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ---- Access key operations ----

// GetAccessKey retrieves a credential record by access key ID.
func (s *sqlStore) GetAccessKey(ctx context.Context, accessKeyID string) (*AccessKeyRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT access_key_id, secret_key, display_name, active, created_at, updated_at
		 FROM access_keys WHERE access_key_id = ?`),
		accessKeyID,
	)

	var k AccessKeyRecord
	var active int
	var createdAtStr, updatedAtStr string
	err := row.Scan(&k.AccessKeyID, &k.SecretKey, &k.DisplayName, &active, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting access key %q: %w", accessKeyID, err)
	}
	k.Active = active != 0
	k.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	k.UpdatedAt, _ = time.Parse(timeFormat, updatedAtStr)
	return &k, nil
}

// PutAccessKey creates or updates a credential record.
func (s *sqlStore) PutAccessKey(ctx context.Context, key *AccessKeyRecord) error {
	active := 0
	if key.Active {
		active = 1
	}

	query := s.upsert("access_keys",
		[]string{"access_key_id", "secret_key", "display_name", "active", "created_at", "updated_at"},
		[]string{"access_key_id"})

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		key.AccessKeyID,
		key.SecretKey,
		key.DisplayName,
		active,
		key.CreatedAt.UTC().Format(timeFormat),
		key.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("putting access key %q: %w", key.AccessKeyID, err)
	}
	return nil
}

// SetAccessKeyActive enables or disables a credential.
func (s *sqlStore) SetAccessKeyActive(ctx context.Context, accessKeyID string, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}
	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE access_keys SET active = ?, updated_at = ? WHERE access_key_id = ?`),
		activeInt, time.Now().UTC().Format(timeFormat), accessKeyID,
	)
	if err != nil {
		return fmt.Errorf("updating access key %q: %w", accessKeyID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("access key not found: %s", accessKeyID)
	}
	return nil
}

// DeleteAccessKey removes a credential. Buckets owned by the key are
// reassigned to another key; the delete fails when the key owns buckets and
// no other key exists.
func (s *sqlStore) DeleteAccessKey(ctx context.Context, accessKeyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var owned int64
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM buckets WHERE owner_id = ?`), accessKeyID,
	).Scan(&owned)
	if err != nil {
		return fmt.Errorf("counting owned buckets: %w", err)
	}

	if owned > 0 {
		var heir string
		err = tx.QueryRowContext(ctx, s.rebind(
			`SELECT access_key_id FROM access_keys
			 WHERE access_key_id <> ? ORDER BY created_at LIMIT 1`), accessKeyID,
		).Scan(&heir)
		if err == sql.ErrNoRows {
			return fmt.Errorf("access key %s owns buckets and no other key exists", accessKeyID)
		}
		if err != nil {
			return fmt.Errorf("finding reassignment target: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE buckets SET owner_id = ? WHERE owner_id = ?`), heir, accessKeyID); err != nil {
			return fmt.Errorf("reassigning buckets: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM access_keys WHERE access_key_id = ?`), accessKeyID)
	if err != nil {
		return fmt.Errorf("deleting access key %q: %w", accessKeyID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("access key not found: %s", accessKeyID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListAccessKeys returns all credential records, ordered by creation time.
func (s *sqlStore) ListAccessKeys(ctx context.Context) ([]AccessKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT access_key_id, secret_key, display_name, active, created_at, updated_at
		 FROM access_keys ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing access keys: %w", err)
	}
	defer rows.Close()

	var keys []AccessKeyRecord
	for rows.Next() {
		var k AccessKeyRecord
		var active int
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&k.AccessKeyID, &k.SecretKey, &k.DisplayName, &active, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning access key row: %w", err)
		}
		k.Active = active != 0
		k.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
		k.UpdatedAt, _ = time.Parse(timeFormat, updatedAtStr)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access key rows: %w", err)
	}
	return keys, nil
}

// Stats returns bucket count, object count, and total stored bytes.
func (s *sqlStore) Stats(ctx context.Context) (*StoreStats, error) {
	var st StoreStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets`).Scan(&st.Buckets); err != nil {
		return nil, fmt.Errorf("counting buckets: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM objects`,
	).Scan(&st.Objects, &st.TotalSize); err != nil {
		return nil, fmt.Errorf("counting objects: %w", err)
	}
	return &st, nil
}

// ---- Helper functions ----

// isUniqueViolation reports whether err is a primary key or unique constraint
// failure for either engine.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY") ||
		strings.Contains(msg, "duplicate key value")
}

// escapeLikePattern escapes special LIKE characters (%, _) in a pattern using
// backslash as the escape character. The caller must append ESCAPE '\' to the
// LIKE clause.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// marshalUserMetadata serializes the x-amz-meta-* map as a JSON blob.
func marshalUserMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling user metadata: %w", err)
	}
	return string(b), nil
}

// unmarshalUserMetadata parses a JSON user metadata blob. Unparseable or
// empty blobs yield nil.
func unmarshalUserMetadata(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	meta := make(map[string]string)
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil
	}
	return meta
}

// scanObject scans an object row using the shared column order.
func scanObject(scan func(dest ...any) error) (*ObjectRecord, error) {
	var obj ObjectRecord
	var userMetaStr, lastModifiedStr, createdAtStr string

	err := scan(
		&obj.Bucket, &obj.Key, &obj.Size, &obj.ETag, &obj.ContentType,
		&obj.StoragePath, &userMetaStr, &lastModifiedStr, &createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	obj.UserMetadata = unmarshalUserMetadata(userMetaStr)
	obj.LastModified, _ = time.Parse(timeFormat, lastModifiedStr)
	obj.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &obj, nil
}
