package export

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// uploadFile ships a staged parquet file to S3 via the multipart uploader.
func uploadFile(ctx context.Context, client *s3.Client, bucket, key, path string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(client)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			logger.Sugar().Errorw("s3 upload failed", "code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
		}
		return fmt.Errorf("s3 upload: %w", err)
	}
	logger.Sugar().Debugw("s3 upload completed", "bucket", bucket, "key", key)
	return nil
}
