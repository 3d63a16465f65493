// Package mockssh provides an in-process SSH server that emulates the
// bulletin-board login UI the smoke test drives.
package mockssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// Server is a mock SSH server for testing.
type Server struct {
	listener   net.Listener
	config     *ssh.ServerConfig
	addr       string
	listenAddr string
	users      map[string]bool   // accepted SSH users; empty accepts anyone
	logins     map[string]string // board username -> password
	posts      []Post
	plain      bool
	ignoreQuit bool
	maxTries   int
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	stats struct {
		connections atomic.Int64
		logins      atomic.Int64
		failures    atomic.Int64
		quits       atomic.Int64
	}
}

// Option configures the mock SSH server.
type Option func(*Server)

// WithListenAddr sets the listen address (default 127.0.0.1:0).
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithUser restricts SSH connections to the named user. Can be repeated.
func WithUser(username string) Option {
	return func(s *Server) {
		s.users[username] = true
	}
}

// WithLogin adds a board username/password pair.
func WithLogin(username, password string) Option {
	return func(s *Server) {
		s.logins[username] = password
	}
}

// WithPosts replaces the listed posts.
func WithPosts(posts []Post) Option {
	return func(s *Server) {
		s.posts = posts
	}
}

// WithoutANSI renders every screen as plain text.
func WithoutANSI() Option {
	return func(s *Server) {
		s.plain = true
	}
}

// WithIgnoreQuit makes the board ignore quit keys so the session only ends
// when the client goes away.
func WithIgnoreQuit() Option {
	return func(s *Server) {
		s.ignoreQuit = true
	}
}

// WithMaxLoginAttempts sets how many failed board logins close the session.
func WithMaxLoginAttempts(n int) Option {
	return func(s *Server) {
		s.maxTries = n
	}
}

// New creates a mock SSH server and starts accepting connections.
func New(opts ...Option) (*Server, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	s := &Server{
		listenAddr: "127.0.0.1:0",
		users:      make(map[string]bool),
		logins: map[string]string{
			"admin": "admin123",
		},
		posts:    DefaultPosts(),
		maxTries: 3,
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	// The board does its own login, so SSH-level auth only checks the user.
	config := &ssh.ServerConfig{
		NoClientAuth: true,
		NoClientAuthCallback: func(c ssh.ConnMetadata) (*ssh.Permissions, error) {
			if len(s.users) > 0 && !s.users[c.User()] {
				return nil, fmt.Errorf("user %q not allowed", c.User())
			}
			return nil, nil
		},
	}
	config.AddHostKey(signer)
	s.config = config

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Debug("mock SSH server started", slog.String("addr", s.addr))
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Host returns the host part of the address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.addr)
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.addr)
	n, _ := strconv.Atoi(port)
	return n
}

// Connections returns how many SSH handshakes completed.
func (s *Server) Connections() int { return int(s.stats.connections.Load()) }

// Logins returns how many board logins succeeded.
func (s *Server) Logins() int { return int(s.stats.logins.Load()) }

// FailedLogins returns how many board logins were rejected.
func (s *Server) FailedLogins() int { return int(s.stats.failures.Load()) }

// Quits returns how many sessions ended with the quit key.
func (s *Server) Quits() int { return int(s.stats.quits.Load()) }

// Close shuts down the server and drops every open connection.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()

		s.connsMu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.connsMu.Unlock()

		s.wg.Wait()
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Debug("accept error", slog.String("error", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()
	s.track(netConn, true)
	defer s.track(netConn, false)
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		slog.Debug("SSH handshake failed", slog.String("error", err.Error()))
		return
	}
	defer sshConn.Close()
	s.stats.connections.Add(1)

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Debug("channel accept failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleChannel(channel, requests)
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	started := false
	appDone := make(chan struct{})

	for {
		select {
		case <-appDone:
			go ssh.DiscardRequests(requests)
			return
		case req, ok := <-requests:
			if !ok {
				if started {
					<-appDone
				}
				return
			}

			switch req.Type {
			case "pty-req", "window-change", "env":
				// The board renders at a fixed size.
				if req.WantReply {
					req.Reply(true, nil)
				}

			case "shell":
				if req.WantReply {
					req.Reply(!started, nil)
				}
				if started {
					continue
				}
				started = true
				b := newBoard(s, channel)
				go func() {
					defer close(appDone)
					code := b.run()
					sendExitStatus(channel, code)
				}()

			default:
				// exec and subsystems are not offered.
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}
}

func sendExitStatus(channel ssh.Channel, code int) {
	// Close writes first to signal EOF on our output
	channel.CloseWrite()

	payload := ssh.Marshal(struct{ Status uint32 }{uint32(code)})
	channel.SendRequest("exit-status", false, payload)

	channel.Close()
}
