package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// listPageSize はListで取得する最大件数。S3の1ページの上限。
const listPageSize = 1000

// S3Config はS3Storeの設定。
//
// AccessKeyID/SecretAccessKeyが空の場合はAWS SDKのデフォルト認証チェーン
// （環境変数、共有設定ファイル、インスタンスロール）を使用する。
// S3互換ストア（MinIO等）を使う場合はEndpointとForcePathStyleを設定する。
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Validate は必須項目を検証する。
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 config: bucket name is required")
	}
	if c.Region == "" {
		return errors.New("s3 config: region is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return errors.New("s3 config: access key ID and secret access key must be provided together")
	}
	return nil
}

// S3Store はAWS S3およびS3互換ストアによるObjectStoreの実装。
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

var _ ObjectStore = (*S3Store)(nil)

// NewS3Store はS3Storeを生成する。
// 署名はSigV4、アドレス指定はForcePathStyleでない限りバーチャルホスト形式となる。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3互換ストアの多くはデフォルトのCRCチェックサムに対応していない
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// List はprefixで始まるオブジェクトを1ページ分返す。
// 1000件を超える場合の続きは取得しない。
func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(listPageSize),
	})
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}

	objects := make([]Object, 0, len(out.Contents))
	for _, obj := range out.Contents {
		objects = append(objects, Object{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return objects, nil
}

// Upload はbodyをマネージドアップローダーでkeyへストリームする。
// サイズが不明なストリームでも、パート単位にバッファしてマルチパートアップロードする。
func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return s.wrapError("Upload", key, err)
	}
	return nil
}

// PresignGet はkeyのGetObjectに対するSigV4署名付きURLを生成する。
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", s.wrapError("PresignGet", key, err)
	}
	return req.URL, nil
}

// Delete はkeyを削除する。存在しないキーの削除もエラーにしない。
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		wrapped := s.wrapError("Delete", key, err)
		if errors.Is(wrapped, ErrNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

// Ping はバケットへの到達性を確認する。
func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return s.wrapError("Ping", "", err)
	}
	return nil
}

// wrapError はS3のエラーを*Errorに変換し、該当するセンチネルエラーを付与する。
func (s *S3Store) wrapError(op, key string, err error) error {
	wrapped := &Error{Op: op, Bucket: s.bucket, Key: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = fmt.Errorf("%w: %w", ErrNotFound, err)
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = fmt.Errorf("%w: %w", ErrNotFound, err)
		case "NoSuchBucket":
			wrapped.Err = fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden":
			wrapped.Err = fmt.Errorf("%w: %w", ErrAccessDenied, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
	}

	return wrapped
}
