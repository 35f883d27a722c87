package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/dan-v/launchable/internal/metrics"
	"github.com/dan-v/launchable/pkg/shared"
)

// Options describes how to reach the remote shell
type Options struct {
	Host                  string
	User                  string
	IdentityFile          string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Shell                 string

	// LocalPort is bound on 127.0.0.1 and forwarded to localhost:TunnelPort
	// on the remote host. Zero disables forwarding.
	LocalPort  int
	TunnelPort int

	ConnectTimeout time.Duration
	BarrierTimeout time.Duration
	Echo           io.Writer
}

// Open dials the host, starts the local forward and the remote shell.
// Every failure before the shell is running wraps ErrConnect.
func Open(ctx context.Context, opts Options) (*Driver, error) {
	if opts.Shell == "" {
		opts.Shell = shared.DefaultShell
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = shared.DefaultConnectTimeout
	}

	sshCfg, err := LoadSSHConfig()
	if err != nil {
		shared.LogWarnf("Ignoring ssh config: %v", err)
	}
	host, err := ResolveHost(sshCfg, opts.Host, opts.User, opts.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	clientCfg, agentConn, err := clientConfig(host, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	// Agent signers are only consulted during the handshake
	defer closeQuietly(agentConn)

	var listener net.Listener
	if opts.LocalPort != 0 {
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", opts.LocalPort))
		if err != nil {
			return nil, fmt.Errorf("%w: %w: port %d: %v", ErrConnect, shared.ErrPortInUse, opts.LocalPort, err)
		}
	}

	shared.LogNetworkf("Connecting to %s@%s (%s)", host.User, host.Alias, host.Addr())
	client, err := dial(ctx, host.Addr(), clientCfg, opts.ConnectTimeout)
	if err != nil {
		closeQuietly(listener)
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	sess, stdin, stdout, err := startShell(client, opts.Shell)
	if err != nil {
		closeQuietly(listener)
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	t := &transport{client: client, session: sess, listener: listener}
	if listener != nil {
		go t.forward(opts.TunnelPort)
		shared.LogNetworkf("Forwarding 127.0.0.1:%d to %s:localhost:%d", opts.LocalPort, host.Alias, opts.TunnelPort)
	}
	metrics.SetSessionOpen(true)

	return NewDriver(stdin, stdout, t,
		WithEcho(opts.Echo),
		WithBarrierTimeout(opts.BarrierTimeout),
	), nil
}

// clientConfig builds the ssh client configuration. The returned agent
// connection, when non-nil, must be closed by the caller.
func clientConfig(host HostInfo, opts Options) (*ssh.ClientConfig, io.Closer, error) {
	auth, agentConn := authMethods(host.IdentityFiles)
	if len(auth) == 0 {
		return nil, nil, errors.New("no usable credentials: start ssh-agent or set remote.identity_file")
	}
	fail := func(err error) (*ssh.ClientConfig, io.Closer, error) {
		closeQuietly(agentConn)
		return nil, nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.InsecureIgnoreHostKey {
		shared.LogWarnf("Host key verification disabled for %s", host.Alias)
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		path := opts.KnownHostsFile
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fail(fmt.Errorf("cannot locate known_hosts: %w", err))
			}
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		cb, err := knownhosts.New(expandHome(path))
		if err != nil {
			return fail(fmt.Errorf("failed to load known_hosts %s: %w", path, err))
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}, agentConn, nil
}

// authMethods offers the ssh-agent first, then every readable unencrypted key.
// The agent connection is returned so the caller can release it.
func authMethods(identityFiles []string) ([]ssh.AuthMethod, io.Closer) {
	var methods []ssh.AuthMethod
	var agentConn io.Closer

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			shared.LogDebug("ssh-agent unavailable", slog.String("error", err.Error()))
		}
	}

	var signers []ssh.Signer
	for _, path := range identityFiles {
		pem, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				shared.LogDebug("Skipping passphrase-protected key", slog.String("path", path))
			} else {
				shared.LogDebug("Skipping unreadable key", slog.String("path", path), slog.String("error", err.Error()))
			}
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	return methods, agentConn
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The handshake shares the connect budget
	conn.SetDeadline(time.Now().Add(timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// startShell runs shell without a PTY, merging stdout and stderr into one
// stream that ends with the command's exit status.
func startShell(client *ssh.Client, shell string) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("new session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}

	pr, pw := io.Pipe()
	out := &countingWriter{w: pw}
	sess.Stdout = out
	sess.Stderr = out

	if err := sess.Start(shell); err != nil {
		sess.Close()
		return nil, nil, nil, fmt.Errorf("start %s: %w", shell, err)
	}

	go func() {
		err := sess.Wait()
		metrics.SetSessionOpen(false)
		pw.CloseWithError(err)
	}()

	return sess, stdin, pr, nil
}

type countingWriter struct {
	w io.Writer
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	metrics.RecordBytesReceived(int64(n))
	return n, err
}

// transport owns the ssh client, the shell session and the forward listener
type transport struct {
	client   *ssh.Client
	session  *ssh.Session
	listener net.Listener

	once sync.Once
	err  error
}

func (t *transport) forward(tunnelPort int) {
	target := fmt.Sprintf("localhost:%d", tunnelPort)
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return
		}
		metrics.RecordForwardConnection()

		go func() {
			remote, err := t.client.Dial("tcp", target)
			if err != nil {
				metrics.RecordForwardFailure()
				shared.LogDebug("Forward dial failed", slog.String("target", target), slog.String("error", err.Error()))
				local.Close()
				return
			}
			metrics.IncrementActiveForwards()
			defer metrics.DecrementActiveForwards()
			shared.CopyBidirectional(local, remote, metrics.RecordForwardBytes)
		}()
	}
}

func (t *transport) Close() error {
	t.once.Do(func() {
		closeQuietly(t.listener)
		t.session.Close()
		t.err = t.client.Close()
		metrics.SetSessionOpen(false)
		shared.LogClosef("Closed SSH session")
	})
	return t.err
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}
