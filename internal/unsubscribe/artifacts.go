package unsubscribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
)

// ArtifactStore keeps the screenshots and DOM snapshots captured during
// browser runs. Each attempt gets its own directory; references are
// "<attempt id>/<name>".
type ArtifactStore interface {
	Save(ctx context.Context, attemptID, name string, data []byte) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// NewArtifactStore returns an S3 store when a bucket is configured and a
// local directory store otherwise.
func NewArtifactStore(cfg model.UnsubscribeConfig) (ArtifactStore, error) {
	if cfg.S3Bucket != "" {
		return NewS3Store(cfg), nil
	}
	if cfg.ArtifactDir == "" {
		return nil, apperr.New(apperr.KindConfig, "unsubscribe.NewArtifactStore", "no artifact directory or bucket configured")
	}
	return NewFSStore(cfg.ArtifactDir), nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".png":
		return "image/png"
	case ".html":
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}

func artifactRef(attemptID, name string) string {
	return path.Join(attemptID, name)
}

// cleanRef rejects references that would escape the artifact root.
func cleanRef(ref string) (string, error) {
	cleaned := path.Clean("/" + ref)[1:]
	if cleaned == "" || cleaned != ref || strings.Contains(ref, "\\") {
		return "", apperr.New(apperr.KindFormat, "unsubscribe.cleanRef", fmt.Sprintf("invalid artifact reference %q", ref))
	}
	return cleaned, nil
}

// FSStore keeps artifacts under a local directory.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

func (s *FSStore) Save(_ context.Context, attemptID, name string, data []byte) (string, error) {
	ref, err := cleanRef(artifactRef(attemptID, name))
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", ref, err)
	}
	return ref, nil
}

func (s *FSStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	ref, err := cleanRef(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(ref)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.New(apperr.KindNotFound, "unsubscribe.FSStore.Open", fmt.Sprintf("artifact %s not found", ref))
	}
	if err != nil {
		return nil, fmt.Errorf("opening artifact %s: %w", ref, err)
	}
	return f, nil
}

// S3Store keeps artifacts in an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a store for cfg.S3Bucket. A custom endpoint enables
// path-style addressing for S3-compatible servers.
func NewS3Store(cfg model.UnsubscribeConfig) *S3Store {
	client := s3.New(s3.Options{
		Region:      cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
	}, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: cfg.S3Bucket}
}

func (s *S3Store) Save(ctx context.Context, attemptID, name string, data []byte) (string, error) {
	ref, err := cleanRef(artifactRef(attemptID, name))
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ref),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return "", fmt.Errorf("uploading artifact %s: %w", ref, err)
	}
	return ref, nil
}

func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	ref, err := cleanRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, apperr.New(apperr.KindNotFound, "unsubscribe.S3Store.Open", fmt.Sprintf("artifact %s not found", ref))
		}
		return nil, fmt.Errorf("downloading artifact %s: %w", ref, err)
	}
	return out.Body, nil
}
