package metadata

import (
	"context"

	"github.com/strongroom/strongroom/internal/serialization"
)

// Export produces a JSON export of all metadata tables for the admin
// backup endpoint. Secrets are redacted unless includeSecrets is set.
func (s *sqlStore) Export(ctx context.Context, includeSecrets bool) ([]byte, error) {
	return serialization.ExportMetadata(ctx, s.db, &serialization.ExportOptions{
		Tables:             serialization.AllTables,
		IncludeCredentials: includeSecrets,
	})
}
