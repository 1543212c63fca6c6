// oreon/appshell · watchthelight <wtl>

package update

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

// Scanner inspects a downloaded artifact before it is accepted.
type Scanner interface {
	Scan(ctx context.Context, path string) error
}

// ErrThreatFound is returned by Clamd when the artifact matches a signature.
var ErrThreatFound = errors.New("threat found")

const (
	clamdDialTimeout = 5 * time.Second
	clamdScanTimeout = 60 * time.Second
)

// Clamd streams artifacts to a ClamAV daemon over its unix socket.
type Clamd struct {
	socketPath string
}

// NewClamd creates a scanner for the clamd socket at socketPath.
func NewClamd(socketPath string) *Clamd {
	return &Clamd{socketPath: socketPath}
}

func (c *Clamd) dial(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: clamdDialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to clamd: %w", err)
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)
	return conn, nil
}

// Ping checks that clamd answers.
func (c *Clamd) Ping(ctx context.Context) error {
	conn, err := c.dial(ctx, clamdDialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "nPING\n"); err != nil {
		return fmt.Errorf("send PING: %w", err)
	}
	response, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if strings.TrimSpace(response) != "PONG" {
		return fmt.Errorf("unexpected response: %s", response)
	}
	return nil
}

// Scan sends the file with INSTREAM, so clamd never needs read access to
// the cache directory. A match is reported as ErrThreatFound.
func (c *Clamd) Scan(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	conn, err := c.dial(ctx, clamdScanTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, "nINSTREAM\n"); err != nil {
		return fmt.Errorf("send INSTREAM: %w", err)
	}

	buf := make([]byte, chunkSize)
	var size [4]byte
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(size[:], uint32(n))
			if _, err := conn.Write(size[:]); err != nil {
				return fmt.Errorf("send chunk: %w", err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return fmt.Errorf("send chunk: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read artifact: %w", rerr)
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err := conn.Write(size[:]); err != nil {
		return fmt.Errorf("end stream: %w", err)
	}

	response, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read scan response: %w", err)
	}
	return parseScanResponse(strings.TrimSpace(response))
}

// parseScanResponse handles "stream: OK", "stream: Name FOUND" and
// "... ERROR" replies.
func parseScanResponse(response string) error {
	switch {
	case strings.HasSuffix(response, " OK"):
		return nil
	case strings.HasSuffix(response, " FOUND"):
		threat := strings.TrimSuffix(response, " FOUND")
		if i := strings.LastIndex(threat, ": "); i != -1 {
			threat = threat[i+2:]
		}
		return fmt.Errorf("%w: %s", ErrThreatFound, threat)
	case strings.HasSuffix(response, " ERROR"):
		return fmt.Errorf("clamd error: %s", response)
	default:
		return fmt.Errorf("unexpected clamd response: %s", response)
	}
}
