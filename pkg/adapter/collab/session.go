package collab

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/collabtree/collabd/internal/logger"
	"github.com/collabtree/collabd/internal/ratelimiter"
	"github.com/collabtree/collabd/pkg/protocol"
)

// session owns one client connection: its protocol state, its private
// directory connection, the read/respond loop and the cleanup of both.
type session struct {
	adapter *CollabAdapter
	conn    net.Conn
	reader  *bufio.Reader
	proto   *protocol.Session
	limiter *ratelimiter.RateLimiter
}

func newSession(adapter *CollabAdapter, conn net.Conn) *session {
	return &session{
		adapter: adapter,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		limiter: ratelimiter.New(adapter.config.MaxCommandsPerSecond, adapter.config.CommandBurst),
	}
}

// serve runs the session until QUIT, end-of-stream, timeout or error.
//
// Commands are processed strictly in the order received; each request line
// gets exactly one response (data lines plus a status line). Panic
// recovery keeps a misbehaving session from taking the server down, and
// the deferred cleanup runs exactly once on every exit path. Cleanup
// failures are logged and swallowed so they never mask the close reason.
func (s *session) serve(ctx context.Context) {
	clientAddr := s.conn.RemoteAddr().String()

	dirConn, err := s.adapter.connector.Connect(ctx)
	if err != nil {
		logger.Error("Directory connect failed for %s: %v", clientAddr, err)
		s.writeResponse(protocol.Response{Status: protocol.StatusInternalError})
		_ = s.conn.Close()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in session from %s: %v", clientAddr, r)
		}
		if err := dirConn.Close(); err != nil {
			logger.Warn("Error closing directory connection for %s: %v", clientAddr, err)
		}
		if err := s.conn.Close(); err != nil {
			logger.Debug("Error closing socket for %s: %v", clientAddr, err)
		}
	}()

	s.proto = &protocol.Session{
		Conn:  dirConn,
		Paths: s.adapter.paths,
	}

	logger.Debug("New COLLAB session from %s", clientAddr)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Session from %s closed due to context cancellation", clientAddr)
			return
		case <-s.adapter.shutdown:
			logger.Debug("Session from %s closed due to server shutdown", clientAddr)
			return
		default:
		}

		line, err := s.readLine()
		if err != nil {
			if err == io.EOF {
				logger.Debug("Session from %s closed by client", clientAddr)
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Best effort: tell the client before hanging up.
				logger.Debug("Session from %s timed out: %v", clientAddr, err)
				s.writeResponse(protocol.Response{Status: protocol.StatusClientTimeout})
			} else {
				logger.Debug("Error reading from %s: %v", clientAddr, err)
			}
			return
		}

		// Pace chatty clients before doing any directory work.
		if err := s.limiter.Wait(ctx); err != nil {
			logger.Debug("Session from %s closed while throttled: %v", clientAddr, err)
			return
		}

		resp := s.handle(ctx, line)

		if err := s.writeResponse(resp); err != nil {
			logger.Debug("Error writing response to %s: %v", clientAddr, err)
			return
		}
		if resp.Close {
			logger.Debug("Session from %s closed by QUIT", clientAddr)
			return
		}
	}
}

// handle dispatches one line, turning panics and uncaught faults into a
// 501 response so the session survives them.
func (s *session) handle(ctx context.Context, line string) (resp protocol.Response) {
	start := time.Now()
	verb := requestVerb(line)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic handling %q from %s: %v", verb, s.conn.RemoteAddr(), r)
			resp = protocol.Response{Status: protocol.StatusInternalError}
		}
		s.adapter.metrics.RecordCommand(verb, resp.Status.Code, time.Since(start))
	}()

	return protocol.Handle(ctx, s.proto, line)
}

// readLine reads the next request line, applying the configured read
// timeout as the socket deadline.
func (s *session) readLine() (string, error) {
	if s.adapter.config.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.adapter.config.ReadTimeout)); err != nil {
			return "", err
		}
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if line == "" || err != io.EOF {
			return "", err
		}
		// Final unterminated line before EOF is still a request.
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeResponse writes data lines and the status line, applying the
// configured write timeout.
func (s *session) writeResponse(resp protocol.Response) error {
	if s.adapter.config.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.adapter.config.WriteTimeout)); err != nil {
			return err
		}
	}

	var b strings.Builder
	for _, line := range resp.Data {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(resp.Status.String())
	b.WriteString("\r\n")

	_, err := s.conn.Write([]byte(b.String()))
	return err
}

// requestVerb extracts the verb token for metrics labels without parsing
// the full command.
func requestVerb(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "EMPTY"
	}
	return strings.ToUpper(fields[0])
}
