package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-vault/internal/database"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  []*s3.PutObjectInput
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Key)] = body
	f.inputs = append(f.inputs, in)
	return &s3.PutObjectOutput{ETag: aws.String(`"etag-1"`)}, nil
}

func mediaFile(t *testing.T, content string) *database.MediaFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "film.mkv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &database.MediaFile{
		ID:          "m1",
		Path:        path,
		RelPath:     "movies/film.mkv",
		MimeType:    "video/x-matroska",
		ContentHash: "hash",
	}
}

func TestUpload(t *testing.T) {
	fake := &fakeS3{}
	u := NewWithClient(fake, Config{Bucket: "vault", Prefix: "/backups/"})
	m := mediaFile(t, "payload")

	res, err := u.Upload(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "vault", res.Bucket)
	assert.Equal(t, "backups/movies/film.mkv", res.Key)
	assert.EqualValues(t, 7, res.SizeBytes)
	assert.Equal(t, "etag-1", res.ETag)

	assert.Equal(t, []byte("payload"), fake.objects["backups/movies/film.mkv"])
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "video/x-matroska", aws.ToString(in.ContentType))
	assert.Equal(t, "m1", in.Metadata["media-id"])
	assert.Equal(t, "hash", in.Metadata["content-hash"])
}

func TestUploadWithoutPrefix(t *testing.T) {
	u := NewWithClient(&fakeS3{}, Config{Bucket: "vault"})
	assert.Equal(t, "movies/film.mkv", u.ObjectKey(&database.MediaFile{RelPath: "movies/film.mkv"}))
}

func TestUploadErrors(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	u := NewWithClient(fake, Config{Bucket: "vault"})

	_, err := u.Upload(context.Background(), mediaFile(t, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	_, err = u.Upload(context.Background(), &database.MediaFile{Path: filepath.Join(t.TempDir(), "gone"), RelPath: "gone"})
	assert.ErrorIs(t, err, os.ErrNotExist)

	var nilUploader *Uploader
	_, err = nilUploader.Upload(context.Background(), mediaFile(t, "x"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, Config{}.Enabled())
}

func TestNewWithEndpoint(t *testing.T) {
	u, err := New(context.Background(), Config{
		Bucket:          "vault",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, u.client)
}
