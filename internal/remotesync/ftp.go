package remotesync

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/jlaffaye/ftp"
)

var _ Backend = (*ftpBackend)(nil)

// ftpBackend opens a control connection per operation. An FTP connection
// carries one transfer at a time, so List and Open never share one.
type ftpBackend struct {
	host     string
	user     string
	password string
	useTLS   bool
	root     string
	opts     Options
}

func newFTPBackend(u *url.URL, opts Options) (*ftpBackend, error) {
	if u.Hostname() == "" {
		return nil, fmt.Errorf("ftp: missing host in %q", u.Redacted())
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}
	user := u.User.Username()
	password, _ := u.User.Password()
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	root := u.Path
	if root == "" {
		root = "/"
	}
	return &ftpBackend{
		host:     host,
		user:     user,
		password: password,
		useTLS:   strings.EqualFold(u.Scheme, "ftps"),
		root:     root,
		opts:     opts,
	}, nil
}

func (b *ftpBackend) connect(ctx context.Context) (*ftp.ServerConn, error) {
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(b.opts.Timeout),
		ftp.DialWithContext(ctx),
	}
	if b.useTLS {
		hostname := b.host
		if h, _, err := net.SplitHostPort(b.host); err == nil {
			hostname = h
		}
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(b.host, dialOpts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(b.user, b.password); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

func (b *ftpBackend) List(ctx context.Context) ([]RemoteFolder, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("ftp: connect: %w", err)
	}
	defer conn.Quit()

	entries, err := conn.List(b.root)
	if err != nil {
		return nil, fmt.Errorf("ftp: list %s: %w", b.root, err)
	}
	var out []RemoteFolder
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.Type != ftp.EntryTypeFolder || e.Name == "." || e.Name == ".." || strings.HasPrefix(e.Name, ".") {
			continue
		}
		dir := path.Join(b.root, e.Name)
		files, err := conn.List(dir)
		if err != nil {
			return nil, fmt.Errorf("ftp: list %s: %w", dir, err)
		}
		rf := RemoteFolder{Name: e.Name, Path: dir}
		for _, f := range files {
			if f.Type == ftp.EntryTypeFile {
				rf.Files = append(rf.Files, RemoteFile{Name: f.Name, Size: int64(f.Size)})
			}
		}
		out = append(out, rf)
	}
	sortFolders(out)
	return out, nil
}

func (b *ftpBackend) Open(ctx context.Context, folder RemoteFolder, file RemoteFile) (io.ReadCloser, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("ftp: connect: %w", err)
	}
	resp, err := conn.Retr(path.Join(folder.Path, file.Name))
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp: retr: %w", err)
	}
	return &ftpReader{Response: resp, conn: conn}, nil
}

func (b *ftpBackend) Close() error { return nil }

// ftpReader closes the transfer and then its control connection.
type ftpReader struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Close() error {
	err := r.Response.Close()
	if qerr := r.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
