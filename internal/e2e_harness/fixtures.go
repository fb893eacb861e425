package e2e_harness

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lychee-technology/flexy"
)

// SeedTables creates the attribute storage tables and the identity-only
// projection view in the harness database.
func SeedTables(ctx context.Context, pool *pgxpool.Pool, tables flexy.TableNames) error {
	schemas := pgx.Identifier{tables.Schemas}.Sanitize()
	fields := pgx.Identifier{tables.Fields}.Sanitize()
	values := pgx.Identifier{tables.Values}.Sanitize()
	viewFields := pgx.Identifier{tables.ViewFields}.Sanitize()
	view := pgx.Identifier{tables.View}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_type TEXT NOT NULL,
			code        TEXT NOT NULL,
			label       TEXT NOT NULL DEFAULT '',
			description TEXT,
			metadata    JSONB,
			is_default  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL,
			PRIMARY KEY (entity_type, code)
		)`, schemas),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_type         TEXT NOT NULL,
			schema_code         TEXT NOT NULL,
			name                TEXT NOT NULL,
			value_type          TEXT NOT NULL,
			sort                INTEGER NOT NULL DEFAULT 100,
			validation_rules    TEXT,
			validation_messages JSONB,
			metadata            JSONB,
			label               TEXT,
			position            SERIAL,
			PRIMARY KEY (entity_type, schema_code, name)
		)`, fields),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_type    TEXT NOT NULL,
			entity_id      UUID NOT NULL,
			field_name     TEXT NOT NULL,
			schema_code    TEXT,
			value_string   TEXT,
			value_int      BIGINT,
			value_decimal  DOUBLE PRECISION,
			value_boolean  BOOLEAN,
			value_date     DATE,
			value_datetime TIMESTAMPTZ,
			value_json     JSONB,
			PRIMARY KEY (entity_type, entity_id, field_name)
		)`, values),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_type TEXT NOT NULL,
			field_name  TEXT NOT NULL,
			PRIMARY KEY (entity_type, field_name)
		)`, viewFields),
		fmt.Sprintf(`DROP VIEW IF EXISTS %s`, view),
		fmt.Sprintf(`CREATE VIEW %s AS
SELECT v.entity_type, v.entity_id, MAX(v.schema_code) AS schema_code
FROM %s v
GROUP BY v.entity_type, v.entity_id`, view, values),
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("seed tables: %w", err)
		}
	}
	return nil
}

// UploadFileToS3 ships a local file to an S3-compatible endpoint (RustFS in
// the harness), creating the bucket when it does not exist yet.
func UploadFileToS3(ctx context.Context, endpoint, accessKey, secretKey, bucket, objectName, filePath string) error {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	}
	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, cerr := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); cerr != nil {
			var apiErr smithy.APIError
			if !errors.As(cerr, &apiErr) {
				return fmt.Errorf("create bucket: %w", cerr)
			}
			if code := apiErr.ErrorCode(); code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
				return fmt.Errorf("create bucket: %w", cerr)
			}
		}
	}

	in, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer in.Close()

	uploader := manager.NewUploader(client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectName),
		Body:   in,
	}); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}
