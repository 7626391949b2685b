package handler_test

import (
	"net"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/conn-dispatcher/internal/connection"
	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
)

var _ = Describe("Files", func() {
	var (
		parent string
		root   string
		h      *handler.Files
	)

	BeforeEach(func() {
		parent = GinkgoT().TempDir()
		root = filepath.Join(parent, "www")

		Expect(os.MkdirAll(filepath.Join(root, "docs"), 0o755)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(root, "site"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world\n"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "page.html"), []byte("<p>hi</p>"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "docs", "a b.md"), []byte("# a"), 0o644)).To(Succeed())
		Expect(os.MkdirAll(filepath.Join(root, "docs", "nested"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "site", "index.html"), []byte("<h1>index</h1>"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("top secret"), 0o644)).To(Succeed())

		h = handler.NewFilesHandler(root, quietLogger(), nil)
	})

	Context("regular files", func() {
		It("serves the file with type and length", func() {
			resp, body := parseResponse(exchange(h, get("/hello.txt")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(resp.Header.Get("Content-Length")).To(Equal("12"))
			Expect(body).To(Equal("hello world\n"))
		})

		It("derives the content type from the extension", func() {
			resp, body := parseResponse(exchange(h, get("/page.html")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/html"))
			Expect(body).To(Equal("<p>hi</p>"))
		})

		It("ignores the query string", func() {
			resp, _ := parseResponse(exchange(h, get("/hello.txt?v=2")))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("directories", func() {
		It("serves index.html when present", func() {
			resp, body := parseResponse(exchange(h, get("/site")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal("<h1>index</h1>"))
		})

		It("lists entries with links otherwise", func() {
			resp, body := parseResponse(exchange(h, get("/docs")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html"))
			Expect(body).To(ContainSubstring(`<a href="/docs/a%20b.md">a b.md</a>`))
			Expect(body).To(ContainSubstring(`<a href="/docs/nested/">nested/</a>`))
			Expect(body).To(ContainSubstring(`<a href="/">../</a>`))
		})

		It("has no parent link at the root", func() {
			resp, body := parseResponse(exchange(h, get("/")))

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`<a href="/hello.txt">hello.txt</a>`))
			Expect(body).NotTo(ContainSubstring(`../`))
		})
	})

	DescribeTable("error responses",
		func(request string, expected int) {
			resp, body := parseResponse(exchange(h, request))
			Expect(resp.StatusCode).To(Equal(expected))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html"))
			Expect(body).To(ContainSubstring(http.StatusText(expected)))
		},
		Entry("missing file", get("/nope.txt"), http.StatusNotFound),
		Entry("missing directory", get("/nope/"), http.StatusNotFound),
		Entry("traversal to a real file", get("/../secret.txt"), http.StatusForbidden),
		Entry("traversal in the middle", get("/docs/../../secret.txt"), http.StatusForbidden),
		Entry("any double dot", get("/a..b"), http.StatusForbidden),
		Entry("garbage request line", "garbage\r\n\r\n", http.StatusBadRequest),
		Entry("asterisk target", "OPTIONS * HTTP/1.0\r\n\r\n", http.StatusBadRequest),
		Entry("absolute-form target", "GET http://example.com/hello.txt HTTP/1.0\r\n\r\n", http.StatusBadRequest),
	)

	It("rejects traversal before touching the filesystem", func() {
		missingRoot := handler.NewFilesHandler(filepath.Join(parent, "does-not-exist"), quietLogger(), nil)

		resp, _ := parseResponse(exchange(missingRoot, get("/../secret.txt")))
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("closes the connection exactly once", func() {
		client, server := net.Pipe()
		defer client.Close()
		raw := &countingConn{Conn: server}

		go func() {
			_, _ = client.Write([]byte(get("/hello.txt")))
			buf := make([]byte, 1024)
			for {
				if _, err := client.Read(buf); err != nil {
					return
				}
			}
		}()

		handler.Run(quietLogger(), h, connection.Wrap(raw, nil))
		Expect(raw.closes.Load()).To(Equal(int32(1)))
	})
})
