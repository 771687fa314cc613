package remotesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"github.com/slotpost/slotpost/pkg/logger"
	"golang.org/x/crypto/ssh"
)

var _ Backend = (*sftpBackend)(nil)

// sftpBackend keeps one SSH connection open between calls and redials after
// a failure.
type sftpBackend struct {
	host       string
	user       string
	password   string
	keyPath    string
	knownHosts string
	root       string
	opts       Options
	log        logger.Logger

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

func newSFTPBackend(u *url.URL, opts Options) (*sftpBackend, error) {
	if u.Hostname() == "" {
		return nil, fmt.Errorf("sftp: missing host in %q", u.Redacted())
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "22")
	}
	user := u.User.Username()
	if user == "" {
		return nil, fmt.Errorf("sftp: missing user in %q", u.Redacted())
	}
	password, _ := u.User.Password()
	root := u.Path
	if root == "" {
		root = "."
	}
	knownHosts := opts.KnownHostsPath
	if knownHosts == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("sftp: known_hosts path: %w", err)
		}
		knownHosts = filepath.Join(dir, "slotpost", "known_hosts")
	}
	return &sftpBackend{
		host:       host,
		user:       user,
		password:   password,
		keyPath:    opts.KeyPath,
		knownHosts: knownHosts,
		root:       root,
		opts:       opts,
		log:        logger.OrNop(opts.Log),
	}, nil
}

func (b *sftpBackend) connect(ctx context.Context) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	auth, err := buildAuthMethods(b.password, b.keyPath)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            b.user,
		Auth:            auth,
		HostKeyCallback: newTOFUHostKeyCallback(b.knownHosts),
		Timeout:         b.opts.Timeout,
	}

	d := net.Dialer{Timeout: b.opts.Timeout}
	nc, err := d.DialContext(ctx, "tcp", b.host)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, b.host, config)
	if err != nil {
		nc.Close()
		return nil, err
	}
	conn := ssh.NewClient(c, chans, reqs)
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.log.Info("sftp: connected to %s", b.host)
	b.conn, b.client = conn, client
	return client, nil
}

// reset drops the cached connection so the next call redials.
func (b *sftpBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

func (b *sftpBackend) closeLocked() error {
	var err error
	if b.client != nil {
		err = b.client.Close()
	}
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	b.client, b.conn = nil, nil
	return err
}

func (b *sftpBackend) List(ctx context.Context) ([]RemoteFolder, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("sftp: connect: %w", err)
	}
	dirs, err := client.ReadDir(b.root)
	if err != nil {
		b.reset()
		return nil, fmt.Errorf("sftp: read %s: %w", b.root, err)
	}
	var out []RemoteFolder
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := path.Join(b.root, d.Name())
		files, err := client.ReadDir(dir)
		if err != nil {
			b.reset()
			return nil, fmt.Errorf("sftp: read %s: %w", dir, err)
		}
		rf := RemoteFolder{Name: d.Name(), Path: dir}
		for _, f := range files {
			if f.Mode().IsRegular() {
				rf.Files = append(rf.Files, RemoteFile{Name: f.Name(), Size: f.Size()})
			}
		}
		out = append(out, rf)
	}
	sortFolders(out)
	return out, nil
}

func (b *sftpBackend) Open(ctx context.Context, folder RemoteFolder, file RemoteFile) (io.ReadCloser, error) {
	client, err := b.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("sftp: connect: %w", err)
	}
	f, err := client.Open(path.Join(folder.Path, file.Name))
	if err != nil {
		return nil, fmt.Errorf("sftp: open: %w", err)
	}
	return f, nil
}

func (b *sftpBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

// buildAuthMethods prefers the password from the URL and otherwise loads a
// private key, either the configured one or the first default key found.
func buildAuthMethods(password, keyPath string) ([]ssh.AuthMethod, error) {
	if password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}

	paths := resolveSSHKeyPaths(keyPath)
	for _, kp := range paths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("sftp: SSH key %q is passphrase-protected, which is not supported", kp)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("sftp: no authentication method available; set a password in the URL or a key at %s", strings.Join(paths, ", "))
}

func resolveSSHKeyPaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}
