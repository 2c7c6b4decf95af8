package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible
// server, speaking RESP directly. Connections are dialed per operation
// and retried with exponential backoff on transient network errors;
// the suppression workload is low-rate enough that pooling would buy
// nothing.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey instance.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// NewValkeyProvider creates a Provider using the supplied configuration.
// It pings the target once so misconfigured credentials or addresses
// fail at boot rather than on the first suppressed alert.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyDefaults(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(s *session) error {
		if err := s.send("GET", key); err != nil {
			return err
		}
		rep, err := s.read()
		if err != nil {
			return err
		}
		switch rep.kind {
		case kindNil:
			return ErrCacheMiss
		case kindBulk:
			payload = rep.data
			return nil
		default:
			return fmt.Errorf("unexpected GET reply kind %q", rep.kind)
		}
	})
	return payload, err
}

// Set stores bytes under key with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(s *session) error {
		args := setArgs(key, value, ttl, false)
		if err := s.sendRaw(args...); err != nil {
			return err
		}
		rep, err := s.read()
		if err != nil {
			return err
		}
		if rep.kind != kindSimple || string(rep.data) != "OK" {
			return fmt.Errorf("unexpected SET reply: %s", rep.data)
		}
		return nil
	})
}

// SetNX stores the value only if the key does not already exist. The
// boolean result is the suppression primitive: true means this caller
// owns the window.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var won bool
	err := p.do(ctx, func(s *session) error {
		args := setArgs(key, value, ttl, true)
		if err := s.sendRaw(args...); err != nil {
			return err
		}
		rep, err := s.read()
		if err != nil {
			return err
		}
		switch rep.kind {
		case kindSimple:
			won = true
		case kindNil:
			won = false
		default:
			return fmt.Errorf("unexpected SETNX reply kind %q", rep.kind)
		}
		return nil
	})
	return won, err
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(s *session) error {
		if err := s.send("DEL", key); err != nil {
			return err
		}
		_, err := s.read()
		return err
	})
}

// Close is a no-op; the provider holds no persistent connections.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) [][]byte {
	args := [][]byte{[]byte("SET"), []byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	if nx {
		args = append(args, []byte("NX"))
	}
	return args
}

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.do(ctx, func(s *session) error {
		if err := s.send("PING"); err != nil {
			return err
		}
		rep, err := s.read()
		if err != nil {
			return err
		}
		if rep.kind != kindSimple || string(rep.data) != "PONG" {
			return fmt.Errorf("unexpected PING reply: %s", rep.data)
		}
		return nil
	})
}

// do dials, authenticates, runs fn, and retries transient failures.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*session) error) error {
	attempts := p.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s, err := p.dial(ctx)
		if err == nil {
			if err = p.login(s); err == nil {
				err = fn(s)
			}
			s.close()
			if err == nil {
				return nil
			}
		}

		lastErr = err
		if !retryable(err) || attempt == attempts-1 {
			return err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return lastErr
}

func (p *ValkeyProvider) dial(ctx context.Context) (*session, error) {
	dialer := net.Dialer{Timeout: dialDeadline(ctx, p.cfg.DialTimeout)}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	return &session{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) login(s *session) error {
	if p.cfg.Password != "" {
		var err error
		if p.cfg.Username != "" {
			err = s.send("AUTH", p.cfg.Username, p.cfg.Password)
		} else {
			err = s.send("AUTH", p.cfg.Password)
		}
		if err != nil {
			return err
		}
		rep, err := s.read()
		if err != nil {
			return err
		}
		if rep.kind != kindSimple || !strings.EqualFold(string(rep.data), "OK") {
			return fmt.Errorf("auth failed: %s", rep.data)
		}
	}
	if p.cfg.DB > 0 {
		if err := s.send("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return err
		}
		rep, err := s.read()
		if err != nil {
			return err
		}
		if rep.kind != kindSimple || !strings.EqualFold(string(rep.data), "OK") {
			return fmt.Errorf("select db %d failed: %s", p.cfg.DB, rep.data)
		}
	}
	return nil
}

// replyKind is the subset of RESP reply types the provider handles.
type replyKind string

const (
	kindSimple replyKind = "+"
	kindBulk   replyKind = "$"
	kindInt    replyKind = ":"
	kindNil    replyKind = "_"
)

type reply struct {
	kind replyKind
	data []byte
}

// session wraps one network connection with RESP encode/decode helpers.
type session struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (s *session) close() {
	if s == nil || s.conn == nil {
		return
	}
	_ = s.conn.Close()
}

func (s *session) send(parts ...string) error {
	raw := make([][]byte, 0, len(parts))
	for _, part := range parts {
		raw = append(raw, []byte(part))
	}
	return s.sendRaw(raw...)
}

func (s *session) sendRaw(parts ...[]byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := fmt.Fprintf(s.writer, "$%d\r\n", len(part)); err != nil {
			return err
		}
		if _, err := s.writer.Write(part); err != nil {
			return err
		}
		if _, err := s.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

func (s *session) read() (reply, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return reply{}, err
	}
	prefix, err := s.reader.ReadByte()
	if err != nil {
		return reply{}, err
	}
	switch prefix {
	case '+':
		line, err := s.line()
		return reply{kind: kindSimple, data: line}, err
	case ':':
		line, err := s.line()
		return reply{kind: kindInt, data: line}, err
	case '-':
		line, err := s.line()
		if err != nil {
			return reply{}, err
		}
		return reply{}, errors.New(string(line))
	case '$':
		line, err := s.line()
		if err != nil {
			return reply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, err
		}
		if size < 0 {
			return reply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(s.reader, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errors.New("malformed bulk string terminator")
		}
		return reply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (s *session) line() ([]byte, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func applyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func dialDeadline(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
