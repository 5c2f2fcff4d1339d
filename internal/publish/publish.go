// Package publish copies the artifacts of a run to their destination: a
// local directory or an S3-compatible bucket.
package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ag-res/reconcile/internal/fsutil"
	"github.com/ag-res/reconcile/internal/security"
)

// Artifact is one file produced by a run.
type Artifact struct {
	// Path is the file's location on the local filesystem.
	Path string
	// Name is the artifact's name under the run prefix. Empty uses the
	// base name of Path.
	Name string
}

func (a Artifact) name() string {
	if a.Name != "" {
		return a.Name
	}
	return filepath.Base(a.Path)
}

// Publisher uploads a run's artifacts.
type Publisher interface {
	// Publish copies each artifact under <year>/<runID>/ and returns the
	// published locations in artifact order.
	Publish(ctx context.Context, year int, runID string, artifacts []Artifact) ([]string, error)
}

// Options configures New.
type Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// New returns the publisher for dest: "s3://bucket/prefix" publishes to S3,
// anything else is a directory.
func New(ctx context.Context, dest string, fsys fsutil.FileSystem, opts Options) (Publisher, error) {
	if dest == "" {
		return nil, fmt.Errorf("publish destination is empty")
	}
	if rest, ok := strings.CutPrefix(dest, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("publish destination %q has no bucket", dest)
		}
		return NewS3(ctx, S3Config{
			Bucket:          bucket,
			Prefix:          strings.Trim(prefix, "/"),
			Region:          opts.Region,
			Endpoint:        opts.Endpoint,
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			PathStyle:       opts.PathStyle,
		}, fsys)
	}
	return &DirPublisher{Root: dest, FS: fsys}, nil
}

// runKey joins the prefix, year, run id and artifact name with slashes.
// Names that would leave the run prefix are rejected.
func runKey(prefix string, year int, runID, name string) (string, error) {
	if err := security.ValidateArtifactName(name); err != nil {
		return "", err
	}
	if err := security.ValidateArtifactName(runID); err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	return path.Join(prefix, strconv.Itoa(year), runID, name), nil
}

// DirPublisher copies artifacts into a directory tree.
type DirPublisher struct {
	Root string
	FS   fsutil.FileSystem
}

// Publish implements Publisher.
func (p *DirPublisher) Publish(ctx context.Context, year int, runID string, artifacts []Artifact) ([]string, error) {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		data, err := p.FS.ReadFile(a.Path)
		if err != nil {
			return out, fmt.Errorf("read artifact: %w", err)
		}
		key, err := runKey("", year, runID, a.name())
		if err != nil {
			return out, err
		}
		dst := filepath.Join(p.Root, filepath.FromSlash(key))
		if err := security.ValidatePathWithinDirectory(dst, p.Root); err != nil {
			return out, err
		}
		if err := p.FS.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return out, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
		}
		if err := p.FS.WriteFile(dst, data, 0o644); err != nil {
			return out, fmt.Errorf("write %s: %w", dst, err)
		}
		tracef("copied %s -> %s", a.Path, dst)
		out = append(out, dst)
	}
	diagf("published %d artifacts to %s", len(out), p.Root)
	return out, nil
}
