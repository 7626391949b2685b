package handler

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

const indexFile = "index.html"

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Index of {{.Path}}</title>
</head>
<body>
	<h1>Index of {{.Path}}</h1>
{{- if .Parent}}
	<a href="{{.Parent}}">../</a><br/>
{{- end}}
{{- range .Entries}}
	<a href="{{.Href}}">{{.Name}}</a><br/>
{{- end}}
</body>
</html>
`))

type listing struct {
	Path    string
	Parent  string
	Entries []listingEntry
}

type listingEntry struct {
	Name string
	Href string
}

// Files serves the contents of a directory tree.
type Files struct {
	root      string
	logger    *slog.Logger
	collector *metrics.Collector
}

// NewFilesHandler serves files below root. collector may be nil.
func NewFilesHandler(root string, logger *slog.Logger, collector *metrics.Collector) *Files {
	return &Files{
		root:      root,
		logger:    logger,
		collector: collector,
	}
}

// Handle answers one request on conn:
//
//   - 400 if the request cannot be parsed or its target is not an absolute path
//   - 403 if the path contains ".." (checked before touching the filesystem)
//   - 404 if nothing exists at the path, or it is neither a file nor a directory
//   - the file itself, index.html of a directory, or a generated listing
//
// conn is closed before Handle returns.
func (f *Files) Handle(conn net.Conn) {
	defer conn.Close()

	status, target := f.serve(conn)

	emitResponse(f.collector, status)
	f.logger.Info("Served request",
		append(connAttrs(conn),
			slog.String("path", target),
			slog.Int("status", status))...)
}

func (f *Files) serve(conn net.Conn) (int, string) {
	req, err := readRequest(conn)
	if err != nil {
		f.logger.Debug("Rejecting request", append(connAttrs(conn), slog.Any("err", err))...)
		return f.fail(conn, http.StatusBadRequest), ""
	}

	target := req.URL.Path
	if strings.Contains(req.RequestURI, "..") || strings.Contains(target, "..") {
		return f.fail(conn, http.StatusForbidden), target
	}

	fullPath := filepath.Join(f.root, filepath.FromSlash(target))

	info, err := os.Stat(fullPath)
	if err != nil {
		return f.fail(conn, http.StatusNotFound), target
	}

	switch {
	case info.Mode().IsRegular():
		return f.serveFile(conn, fullPath), target
	case info.IsDir():
		return f.serveDirectory(conn, fullPath, target), target
	default:
		return f.fail(conn, http.StatusNotFound), target
	}
}

func (f *Files) serveFile(w io.Writer, fullPath string) int {
	file, err := os.Open(fullPath)
	if err != nil {
		return f.fail(w, statusForOpenError(err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return f.fail(w, http.StatusInternalServerError)
	}

	header := http.Header{}
	header.Set("Content-Type", contentType(fullPath))
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	if err := writeResponse(w, http.StatusOK, header, file); err != nil {
		f.logger.Debug("Client went away mid-response", slog.String("file", fullPath), slog.Any("err", err))
	}

	return http.StatusOK
}

func (f *Files) serveDirectory(w io.Writer, fullPath, target string) int {
	index := filepath.Join(fullPath, indexFile)
	if info, err := os.Stat(index); err == nil && info.Mode().IsRegular() {
		return f.serveFile(w, index)
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return f.fail(w, statusForOpenError(err))
	}

	page := listing{Path: target}
	if target != "/" {
		page.Parent = path.Dir(strings.TrimSuffix(target, "/"))
	}
	for _, entry := range entries {
		name := entry.Name()
		href := path.Join(target, name)
		if entry.IsDir() {
			name += "/"
			href += "/"
		}
		page.Entries = append(page.Entries, listingEntry{Name: name, Href: href})
	}

	var body bytes.Buffer
	if err := listingTemplate.Execute(&body, page); err != nil {
		f.logger.Error("Failed to render directory listing", slog.String("dir", fullPath), slog.Any("err", err))
		return f.fail(w, http.StatusInternalServerError)
	}

	header := http.Header{}
	header.Set("Content-Type", "text/html")
	header.Set("Content-Length", strconv.Itoa(body.Len()))

	if err := writeResponse(w, http.StatusOK, header, &body); err != nil {
		f.logger.Debug("Client went away mid-response", slog.String("dir", fullPath), slog.Any("err", err))
	}

	return http.StatusOK
}

func (f *Files) fail(w io.Writer, status int) int {
	if err := writeError(w, status); err != nil {
		f.logger.Debug("Failed to write error response", slog.Int("status", status), slog.Any("err", err))
	}
	return status
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain"
}

func statusForOpenError(err error) int {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
