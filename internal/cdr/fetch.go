// Package cdr imports the PBX's call detail record exports into contact
// history. Conversion attribution reads that history, so imports are
// idempotent and tolerate re-delivered files.
package cdr

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-engine/internal/resilience"
)

// FetchOptions configures the CDR fetcher.
type FetchOptions struct {
	Timeout time.Duration
	// Retry applies to the FTP connect/retrieve sequence. Zero value uses
	// the resilience defaults.
	Retry resilience.Policy
}

// Fetcher retrieves CDR export files. The PBX publishes them on an
// anonymous FTP share; plain paths open local files for dev imports.
type Fetcher struct {
	opts FetchOptions
}

// NewFetcher creates a Fetcher with the given options.
func NewFetcher(opts FetchOptions) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Fetcher{opts: opts}
}

// Open retrieves the file behind fileURL and returns a reader. The caller
// must close it to release the underlying connection.
func (f *Fetcher) Open(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	if !strings.Contains(fileURL, "://") {
		file, err := os.Open(fileURL)
		if err != nil {
			return nil, eris.Wrapf(err, "cdr: open %s", fileURL)
		}
		return file, nil
	}

	host, path, err := parseFTPURL(fileURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("cdr: connecting", zap.String("host", host), zap.String("path", path))

	retry := resilience.Logged(f.opts.Retry, "pbx-ftp", "retrieve")
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
		return f.retrieve(ctx, host, path)
	})
}

// retrieve runs one dial/login/retr round trip. The PBX closes idle control
// connections aggressively, so each attempt gets a fresh one.
func (f *Fetcher) retrieve(ctx context.Context, host, path string) (io.ReadCloser, error) {
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "cdr: ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "cdr: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "cdr: ftp retrieve %s", path)
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "cdr: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("cdr: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("cdr: empty path in ftp url")
	}

	return host, path, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the
// reader also closes the response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "cdr: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "cdr: quit ftp connection")
	}
	return nil
}
