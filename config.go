package flexy

import (
	"time"
)

// Config consolidates settings for the registry, value store, projector and
// the maintenance export path.
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Projection ProjectionConfig `json:"projection"`
	Export     ExportConfig     `json:"export"`
	Logging    LoggingConfig    `json:"logging"`
}

// TableNames carries the physical table and view names.
type TableNames struct {
	Schemas    string `json:"schemas"`
	Fields     string `json:"fields"`
	Values     string `json:"values"`
	ViewFields string `json:"viewFields"`
	View       string `json:"view"`
}

// EntityTable describes the host entity table for one entity type, used by
// the best-effort cascade on schema deletion. Linkage stays soft: the host
// table only needs a nullable schema code column.
type EntityTable struct {
	Table            string `json:"table"`
	SchemaCodeColumn string `json:"schemaCodeColumn"`
	IDColumn         string `json:"idColumn"`
}

// DatabaseConfig contains relational backend settings.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	UseIAMAuth      bool          `json:"useIamAuth"` // generate a DSQL connect token instead of Password
	MaxConnections  int           `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	Timeout         time.Duration `json:"timeout"`
	TableNames      TableNames    `json:"tableNames"`
	// EntityTables maps entity type identifiers to their host tables. Types
	// absent from the map simply skip the entity-side cascade step.
	EntityTables map[string]EntityTable `json:"entityTables,omitempty"`
}

// Supported projection dialects.
const (
	DialectPostgres = "postgres"
	DialectDuckDB   = "duckdb"
)

// ProjectionConfig contains view projector settings.
type ProjectionConfig struct {
	// Dialect selects the view SQL generator: "postgres" or "duckdb".
	Dialect string `json:"dialect"`
	// ColumnPrefix is prepended to attribute names in the generated view.
	ColumnPrefix string `json:"columnPrefix"`
	// AdvisoryLock serializes ForceRebuild across processes via a database
	// advisory lock (postgres dialect only).
	AdvisoryLock bool `json:"advisoryLock"`
}

// ExportConfig contains projection snapshot export settings.
type ExportConfig struct {
	Enabled  bool   `json:"enabled"`
	S3Bucket string `json:"s3Bucket"`
	S3Region string `json:"s3Region"`
	// S3Endpoint overrides the S3 endpoint for S3-compatible stores
	// (MinIO, RustFS). Empty means AWS.
	S3Endpoint   string `json:"s3Endpoint"`
	S3Prefix     string `json:"s3Prefix"`
	StagingDir   string `json:"stagingDir"`
	DuckDBPath   string `json:"duckdbPath"` // empty for in-memory
	UploadDirect bool   `json:"uploadDirect"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	LogQueries bool   `json:"logQueries"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  25,
			ConnMaxLifetime: 5 * time.Minute,
			Timeout:         30 * time.Second,
			TableNames: TableNames{
				Schemas:    "flexy_schemas",
				Fields:     "flexy_fields",
				Values:     "flexy_values",
				ViewFields: "flexy_view_fields",
				View:       "flexy_attributes_view",
			},
		},
		Projection: ProjectionConfig{
			Dialect:      DialectPostgres,
			ColumnPrefix: "attr_",
			AdvisoryLock: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	t := c.Database.TableNames
	if t.Schemas == "" || t.Fields == "" || t.Values == "" || t.ViewFields == "" || t.View == "" {
		return &ConfigError{Field: "database.tableNames", Message: "all table names must be set"}
	}
	switch c.Projection.Dialect {
	case DialectPostgres, DialectDuckDB:
	default:
		return &ConfigError{Field: "projection.dialect", Message: "must be \"postgres\" or \"duckdb\""}
	}
	if c.Projection.ColumnPrefix == "" {
		return &ConfigError{Field: "projection.columnPrefix", Message: "must not be empty"}
	}
	if c.Export.Enabled && c.Export.S3Bucket == "" {
		return &ConfigError{Field: "export.s3Bucket", Message: "required when export is enabled"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
