package s3store

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/chirino/daily-log/internal/testutil/tests3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(externalEndpoint string) *S3ImageStore {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		BaseEndpoint: aws.String("http://minio:9000"),
		UsePathStyle: true,
	})
	return New(client, Options{
		Bucket:           "images",
		Prefix:           "/daily-log/",
		ExternalEndpoint: externalEndpoint,
		UploadExpiry:     5 * time.Minute,
	})
}

func TestNewUploadPresignsPut(t *testing.T) {
	s := newTestStore("")
	up, err := s.NewUpload(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, up.StorageID)

	u, err := url.Parse(up.UploadURL)
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", u.Host)
	assert.Equal(t, "/images/daily-log/"+up.StorageID, u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), up.ExpiresAt, 5*time.Second)
}

func TestURLUsesExternalEndpoint(t *testing.T) {
	s := newTestStore("https://cdn.example.com/s3")
	raw, err := s.URL(context.Background(), "abc", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "cdn.example.com", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/s3/images/daily-log/abc"), u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
}

func TestRoundTripThroughPresignedURLs(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	client := tests3.StartS3(t)
	s := New(client, Options{Bucket: tests3.Bucket, Prefix: "posts"})
	ctx := context.Background()

	up, err := s.NewUpload(ctx)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, up.UploadURL, strings.NewReader("jpeg"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	download, err := s.URL(ctx, up.StorageID, time.Minute)
	require.NoError(t, err)
	resp, err = http.Get(download)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", string(body))

	require.NoError(t, s.Delete(ctx, up.StorageID))
	resp, err = http.Get(download)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
