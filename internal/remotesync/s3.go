package remotesync

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Backend = (*s3Backend)(nil)

const defaultS3Endpoint = "s3.amazonaws.com"

// s3Backend maps "prefix/<folder>/<file>" object keys to content folders.
// Keys nested deeper than one folder level are ignored.
type s3Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

type s3Location struct {
	Bucket   string
	Prefix   string
	Endpoint string
	Secure   bool
}

func parseS3URL(u *url.URL) (s3Location, error) {
	loc := s3Location{
		Bucket:   u.Host,
		Prefix:   strings.Trim(u.Path, "/"),
		Endpoint: defaultS3Endpoint,
		Secure:   true,
	}
	if loc.Bucket == "" {
		return loc, fmt.Errorf("s3: missing bucket in %q", u.String())
	}
	q := u.Query()
	if ep := q.Get("endpoint"); ep != "" {
		loc.Endpoint = ep
	}
	if s := q.Get("secure"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return loc, fmt.Errorf("s3: secure=%q: %w", s, err)
		}
		loc.Secure = v
	}
	if loc.Prefix != "" {
		loc.Prefix += "/"
	}
	return loc, nil
}

func newS3Backend(u *url.URL, opts Options) (*s3Backend, error) {
	loc, err := parseS3URL(u)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(loc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: loc.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	return &s3Backend{client: client, bucket: loc.Bucket, prefix: loc.Prefix}, nil
}

func (b *s3Backend) List(ctx context.Context) ([]RemoteFolder, error) {
	byName := make(map[string]*RemoteFolder)
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3: list %s/%s: %w", b.bucket, b.prefix, obj.Err)
		}
		folder, file, ok := splitFolderKey(strings.TrimPrefix(obj.Key, b.prefix))
		if !ok {
			continue
		}
		rf := byName[folder]
		if rf == nil {
			rf = &RemoteFolder{Name: folder, Path: b.prefix + folder}
			byName[folder] = rf
		}
		rf.Files = append(rf.Files, RemoteFile{Name: file, Size: obj.Size})
	}
	out := make([]RemoteFolder, 0, len(byName))
	for _, rf := range byName {
		out = append(out, *rf)
	}
	sortFolders(out)
	return out, nil
}

// splitFolderKey splits "folder/file" and rejects everything else.
func splitFolderKey(key string) (folder, file string, ok bool) {
	folder, file, ok = strings.Cut(key, "/")
	if !ok || folder == "" || file == "" || strings.Contains(file, "/") {
		return "", "", false
	}
	if strings.HasPrefix(folder, ".") || strings.HasPrefix(file, ".") {
		return "", "", false
	}
	return folder, file, true
}

func (b *s3Backend) Open(ctx context.Context, folder RemoteFolder, file RemoteFile) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, folder.Path+"/"+file.Name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", file.Name, err)
	}
	return obj, nil
}

func (b *s3Backend) Close() error { return nil }
