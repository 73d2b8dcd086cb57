package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "cloudstore-test"

func setupFakeS3(t *testing.T) (*S3Store, *httptest.Server) {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(testBucket))
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          testBucket,
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)

	return store, server
}

func TestS3Config_Validate(t *testing.T) {
	valid := S3Config{Bucket: "b", Region: "eu-north-1"}
	assert.NoError(t, valid.Validate())

	noBucket := valid
	noBucket.Bucket = ""
	assert.Error(t, noBucket.Validate())

	noRegion := valid
	noRegion.Region = ""
	assert.Error(t, noRegion.Validate())

	partialCreds := valid
	partialCreds.AccessKeyID = "AKIA"
	assert.Error(t, partialCreds.Validate())
}

func TestS3Store_UploadListDelete(t *testing.T) {
	store, _ := setupFakeS3(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "alice@example.com/report.pdf", strings.NewReader("pdf-bytes"), "application/pdf"))
	require.NoError(t, store.Upload(ctx, "alice@example.com/notes.txt", strings.NewReader("hello"), ""))
	require.NoError(t, store.Upload(ctx, "bob@example.com/secret.txt", strings.NewReader("bob only"), "text/plain"))

	objects, err := store.List(ctx, "alice@example.com/")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	byKey := map[string]Object{}
	for _, obj := range objects {
		byKey[obj.Key] = obj
	}
	require.Contains(t, byKey, "alice@example.com/report.pdf")
	require.Contains(t, byKey, "alice@example.com/notes.txt")
	assert.Equal(t, int64(len("pdf-bytes")), byKey["alice@example.com/report.pdf"].Size)
	assert.False(t, byKey["alice@example.com/notes.txt"].LastModified.IsZero())

	require.NoError(t, store.Delete(ctx, "alice@example.com/report.pdf"))

	objects, err = store.List(ctx, "alice@example.com/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "alice@example.com/notes.txt", objects[0].Key)
}

func TestS3Store_UploadOverwrites(t *testing.T) {
	store, _ := setupFakeS3(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "u@example.com/a.txt", strings.NewReader("first"), ""))
	require.NoError(t, store.Upload(ctx, "u@example.com/a.txt", strings.NewReader("second version"), ""))

	objects, err := store.List(ctx, "u@example.com/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, int64(len("second version")), objects[0].Size)
}

func TestS3Store_ListEmptyPrefix(t *testing.T) {
	store, _ := setupFakeS3(t)

	objects, err := store.List(context.Background(), "nobody@example.com/")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestS3Store_DeleteIsIdempotent(t *testing.T) {
	store, _ := setupFakeS3(t)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, "u@example.com/missing.txt"))

	require.NoError(t, store.Upload(ctx, "u@example.com/twice.txt", strings.NewReader("x"), ""))
	require.NoError(t, store.Delete(ctx, "u@example.com/twice.txt"))
	require.NoError(t, store.Delete(ctx, "u@example.com/twice.txt"))
}

func TestS3Store_PresignGet(t *testing.T) {
	store, server := setupFakeS3(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "u@example.com/a.txt", strings.NewReader("download me"), "text/plain"))

	raw, err := store.PresignGet(ctx, "u@example.com/a.txt", 300*time.Second)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, server.URL), "presigned URL %q should target the store endpoint", raw)
	assert.Contains(t, u.Path, "/"+testBucket+"/u@example.com/a.txt")
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.Equal(t, "AWS4-HMAC-SHA256", u.Query().Get("X-Amz-Algorithm"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))

	resp, err := http.Get(raw)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "download me", string(body))
}

func TestS3Store_Ping(t *testing.T) {
	store, _ := setupFakeS3(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestS3Store_MissingBucket(t *testing.T) {
	store, _ := setupFakeS3(t)
	store.bucket = "does-not-exist"

	_, err := store.List(context.Background(), "u@example.com/")
	require.Error(t, err)

	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "List", storeErr.Op)
	assert.ErrorIs(t, err, ErrBucketNotFound)
}

func TestWrapError_SmithyCodes(t *testing.T) {
	s := &S3Store{bucket: testBucket}

	tests := []struct {
		code string
		want error
	}{
		{"NoSuchKey", ErrNotFound},
		{"NotFound", ErrNotFound},
		{"NoSuchBucket", ErrBucketNotFound},
		{"AccessDenied", ErrAccessDenied},
		{"SignatureDoesNotMatch", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := s.wrapError("Op", "k", &smithy.GenericAPIError{Code: tt.code, Message: "m"})
			assert.ErrorIs(t, err, tt.want)

			var apiErr smithy.APIError
			assert.True(t, errors.As(err, &apiErr), "original API error should remain reachable")
		})
	}
}

func TestWrapError_UnknownPassesThrough(t *testing.T) {
	s := &S3Store{bucket: testBucket}
	cause := errors.New("connection reset")

	err := s.wrapError("Upload", "k", cause)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "s3 Upload: "+testBucket+"/k")
}
