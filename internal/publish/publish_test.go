package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-res/reconcile/internal/fsutil"
	"github.com/ag-res/reconcile/internal/security"
)

func artifactsFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("out/targets.csv", []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, fsys.WriteFile("out/codes.tif", []byte{0x49, 0x49}, 0o644))
	return fsys
}

func TestDirPublisher(t *testing.T) {
	fsys := artifactsFS(t)
	p, err := New(context.Background(), "/pub", fsys, Options{})
	require.NoError(t, err)

	locs, err := p.Publish(context.Background(), 2021, "run-1", []Artifact{
		{Path: "out/targets.csv"},
		{Path: "out/codes.tif", Name: "rasters/codes.tif"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/pub/2021/run-1/targets.csv", "/pub/2021/run-1/rasters/codes.tif"}, locs)

	data, err := fsys.ReadFile("/pub/2021/run-1/targets.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestDirPublisher_MissingArtifact(t *testing.T) {
	p := &DirPublisher{Root: "/pub", FS: fsutil.NewMemoryFileSystem()}
	_, err := p.Publish(context.Background(), 2021, "r", []Artifact{{Path: "nope.csv"}})
	assert.Error(t, err)
}

func TestPublish_RejectsEscapingNames(t *testing.T) {
	fsys := artifactsFS(t)
	dir := &DirPublisher{Root: "/pub", FS: fsys}
	_, err := dir.Publish(context.Background(), 2021, "run-1", []Artifact{{Path: "out/targets.csv", Name: "../../etc/targets.csv"}})
	assert.ErrorIs(t, err, security.ErrOutsideRoot)
	assert.False(t, fsys.Exists("/etc/targets.csv"))

	fake := &fakePutter{}
	s3p := NewS3WithClient(fake, "bucket", "agres", fsys)
	_, err = s3p.Publish(context.Background(), 2021, "../run", []Artifact{{Path: "out/targets.csv"}})
	assert.ErrorIs(t, err, security.ErrOutsideRoot)
	assert.Empty(t, fake.keys)
}

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)+" "+aws.ToString(in.ContentType))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Publisher_KeyLayout(t *testing.T) {
	fake := &fakePutter{}
	p := NewS3WithClient(fake, "bucket", "agres/mb", artifactsFS(t))

	locs, err := p.Publish(context.Background(), 2022, "abc", []Artifact{{Path: "out/targets.csv"}, {Path: "out/codes.tif"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://bucket/agres/mb/2022/abc/targets.csv", "s3://bucket/agres/mb/2022/abc/codes.tif"}, locs)
	assert.Equal(t, []string{"bucket/agres/mb/2022/abc/targets.csv text/csv", "bucket/agres/mb/2022/abc/codes.tif image/tiff"}, fake.keys)
}

func TestS3Publisher_APIError(t *testing.T) {
	fake := &fakePutter{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}}
	p := NewS3WithClient(fake, "bucket", "", artifactsFS(t))

	_, err := p.Publish(context.Background(), 2022, "abc", []Artifact{{Path: "out/targets.csv"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestNew_S3AgainstHTTPServer(t *testing.T) {
	var (
		mu   sync.Mutex
		puts = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts[r.URL.Path] = string(body)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(context.Background(), "s3://results/agres/", artifactsFS(t), Options{
		Region:          "ca-central-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	require.NoError(t, err)
	s3p, ok := p.(*S3Publisher)
	require.True(t, ok)
	assert.Equal(t, "agres", s3p.prefix)

	client := s3p.client.(*s3.Client)
	s3p.client = s3.New(client.Options(), func(o *s3.Options) {
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	locs, err := p.Publish(context.Background(), 2021, "run", []Artifact{{Path: "out/targets.csv"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://results/agres/2021/run/targets.csv"}, locs)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a,b\n1,2\n", puts["/results/agres/2021/run/targets.csv"])
}

func TestNew_Validates(t *testing.T) {
	_, err := New(context.Background(), "", nil, Options{})
	assert.Error(t, err)
	_, err = New(context.Background(), "s3://", nil, Options{})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("a.csv"))
	assert.Equal(t, "image/tiff", contentType("a.tif"))
	assert.Equal(t, "application/octet-stream", contentType("a.bil"))
}
