package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// The copy helpers speak the scp wire protocol to a remote "scp -t" (sink)
// or "scp -f" (source), so no local scp binary is needed.

var errSCP = errors.New("scp")

// Upload copies localPath into remoteDir, returning the bytes sent
func (c *Client) Upload(ctx context.Context, localPath, remoteDir string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	session, err := c.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()
	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	stdin, err := session.StdinPipe()
	if err != nil {
		return 0, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := session.Start("scp -t " + QuoteArg(c.cfg.OS, remoteDir)); err != nil {
		return 0, fmt.Errorf("failed to start scp sink: %w", err)
	}
	acks := bufio.NewReader(stdout)

	n, err := sendFile(stdin, acks, f, filepath.Base(localPath), info.Size())
	stdin.Close()
	if err != nil {
		return n, fmt.Errorf("upload %s: %w", localPath, err)
	}
	if err := session.Wait(); err != nil {
		return n, fmt.Errorf("upload %s: %w", localPath, err)
	}
	return n, nil
}

func sendFile(w io.Writer, acks *bufio.Reader, r io.Reader, name string, size int64) (int64, error) {
	if err := readAck(acks); err != nil {
		return 0, err
	}
	if _, err := fmt.Fprintf(w, "C0644 %d %s\n", size, name); err != nil {
		return 0, err
	}
	if err := readAck(acks); err != nil {
		return 0, err
	}
	n, err := io.CopyN(w, r, size)
	if err != nil {
		return n, err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return n, err
	}
	return n, readAck(acks)
}

// Download copies remotePath to localPath, returning the bytes received
func (c *Client) Download(ctx context.Context, remotePath, localPath string) (int64, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()
	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	stdin, err := session.StdinPipe()
	if err != nil {
		return 0, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := session.Start("scp -f " + QuoteArg(c.cfg.OS, remotePath)); err != nil {
		return 0, fmt.Errorf("failed to start scp source: %w", err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	n, err := receiveFile(stdin, bufio.NewReader(stdout), f)
	stdin.Close()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return n, fmt.Errorf("download %s: %w", remotePath, err)
	}
	if err := session.Wait(); err != nil {
		return n, fmt.Errorf("download %s: %w", remotePath, err)
	}
	return n, nil
}

func receiveFile(w io.Writer, r *bufio.Reader, dst io.Writer) (int64, error) {
	if _, err := w.Write([]byte{0}); err != nil {
		return 0, err
	}
	header, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	if header == "" || header[0] != 'C' {
		return 0, fmt.Errorf("%w: %s", errSCP, strings.TrimSpace(strings.TrimLeft(header, "\x01\x02")))
	}
	fields := strings.Fields(header)
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: bad header %q", errSCP, header)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad size in %q", errSCP, header)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return 0, err
	}
	n, err := io.CopyN(dst, r, size)
	if err != nil {
		return n, err
	}
	if err := readAck(r); err != nil {
		return n, err
	}
	_, err = w.Write([]byte{0})
	return n, err
}

// readAck consumes one scp status byte: 0 ok, 1 warning, 2 fatal, the
// latter two followed by a message line.
func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b == 0 {
		return nil
	}
	msg, _ := r.ReadString('\n')
	return fmt.Errorf("%w: %s", errSCP, strings.TrimSpace(msg))
}
