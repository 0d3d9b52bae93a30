// Package fetcher retrieves antenna and contour datasets over HTTP, FTP or
// from the local filesystem, and streams their tabular formats (CSV, XLSX,
// JSON) as header-keyed rows.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote dataset.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Options configures a Mux.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
}

// Mux routes a dataset source to the fetcher for its scheme. Sources without
// a scheme, or with file://, are local paths.
type Mux struct {
	http Fetcher
	ftp  Fetcher
}

// NewMux creates a Mux backed by an HTTPFetcher and an FTPFetcher.
func NewMux(opts Options) *Mux {
	return &Mux{
		http: NewHTTPFetcher(opts.HTTP),
		ftp:  NewFTPFetcher(opts.FTP),
	}
}

// NewMuxWith creates a Mux from explicit fetchers. A nil fetcher disables its schemes.
func NewMuxWith(httpFetcher, ftpFetcher Fetcher) *Mux {
	return &Mux{http: httpFetcher, ftp: ftpFetcher}
}

// IsRemote reports whether src names an http(s) or ftp resource.
func IsRemote(src string) bool {
	switch scheme(src) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Open returns a reader over the dataset named by src.
func (m *Mux) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	if !IsRemote(src) {
		f, err := os.Open(localPath(src))
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", src)
		}
		return f, nil
	}

	f, err := m.fetcherFor(src)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, src)
}

// Localize makes src available on the local filesystem. Remote sources are
// downloaded into dir under their base name; local paths are returned as is.
func (m *Mux) Localize(ctx context.Context, src, dir string) (string, error) {
	if !IsRemote(src) {
		return localPath(src), nil
	}

	f, err := m.fetcherFor(src)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create download dir")
	}

	dest := filepath.Join(dir, BaseName(src))
	n, err := f.DownloadToFile(ctx, src, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", src)
	}
	zap.L().Info("dataset downloaded",
		zap.String("source", src),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

// BaseName returns the final path element of a URL or local path.
func BaseName(src string) string {
	if u, err := url.Parse(src); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		if b := path.Base(u.Path); b != "." && b != "/" {
			return b
		}
		return u.Hostname()
	}
	return filepath.Base(src)
}

// Ext returns the lower-cased extension of src, ignoring any URL query.
func Ext(src string) string {
	return strings.ToLower(path.Ext(BaseName(src)))
}

func (m *Mux) fetcherFor(src string) (Fetcher, error) {
	var f Fetcher
	switch scheme(src) {
	case "http", "https":
		f = m.http
	case "ftp":
		f = m.ftp
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher for %q", src)
	}
	return f, nil
}

func scheme(src string) string {
	i := strings.Index(src, "://")
	if i <= 1 {
		return ""
	}
	return strings.ToLower(src[:i])
}

func localPath(src string) string {
	return strings.TrimPrefix(src, "file://")
}
