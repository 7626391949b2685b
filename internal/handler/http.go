package handler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrBadRequest wraps every failure to read a usable request.
var ErrBadRequest = errors.New("malformed request")

// readRequest parses the request line and headers. The body, if any, is
// left unread.
func readRequest(r io.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	if !strings.HasPrefix(req.RequestURI, "/") {
		return nil, fmt.Errorf("%w: request target %q is not an absolute path", ErrBadRequest, req.RequestURI)
	}

	return req, nil
}

// writeResponse writes a complete HTTP/1.0 response. body may be nil.
func writeResponse(w io.Writer, status int, header http.Header, body io.Reader) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "HTTP/1.0 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Connection", "close")
	if err := header.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}

	if body != nil {
		if _, err := io.Copy(bw, body); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// writeError writes a small HTML error page for status.
func writeError(w io.Writer, status int) error {
	text := http.StatusText(status)
	body := fmt.Sprintf("<html>\n<head><title>%d %s</title></head>\n<body><h1>%d %s</h1></body>\n</html>\n",
		status, text, status, text)

	header := http.Header{}
	header.Set("Content-Type", "text/html")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return writeResponse(w, status, header, strings.NewReader(body))
}
