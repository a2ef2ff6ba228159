package digitalocean

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	acl     map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, acl: map[string]string{}}
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	f.acl[*in.Key] = aws.StringValue(in.ACL)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestSpacesRoundTrip(t *testing.T) {
	api := newFakeS3()
	client := NewSpacesClientWithAPI(api, SpacesConfig{Bucket: "notes", Endpoint: "https://sgp1.digitaloceanspaces.com"})
	ctx := context.Background()

	url, err := client.Put(ctx, "notes/1/a.pdf", []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://notes.sgp1.digitaloceanspaces.com/notes/1/a.pdf", url)
	assert.Equal(t, "private", api.acl["notes/1/a.pdf"])

	data, err := client.Get(ctx, "notes/1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, client.Delete(ctx, "notes/1/a.pdf"))
	_, err = client.Get(ctx, "notes/1/a.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestSpacesURLPrefersCDN(t *testing.T) {
	client := NewSpacesClientWithAPI(newFakeS3(), SpacesConfig{Bucket: "notes", CDNURL: "https://cdn.example.com/"})
	assert.Equal(t, "https://cdn.example.com/k.pdf", client.URL("k.pdf"))
}

func TestSpacesPresignedURL(t *testing.T) {
	client, err := NewSpacesClient(SpacesConfig{
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "notes",
		Region:    "sgp1",
	})
	require.NoError(t, err)

	url, err := client.PresignedURL("notes/2024/01/x.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "sgp1.digitaloceanspaces.com")
	assert.Contains(t, url, "X-Amz-Expires=900")
}

func TestSpacesConfigEnabled(t *testing.T) {
	assert.False(t, SpacesConfig{Bucket: "b"}.Enabled())
	assert.True(t, SpacesConfig{Bucket: "b", Region: "sgp1", AccessKey: "a", SecretKey: "s"}.Enabled())
}

func TestGenerateKeyKeepsExtension(t *testing.T) {
	key := GenerateKey("/notes/", "Lecture 3.PDF")
	assert.True(t, strings.HasPrefix(key, "notes/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.NotEqual(t, key, GenerateKey("notes", "Lecture 3.PDF"))
}
