package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/conn-dispatcher/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should create a stdout logger", func() {
			log := logger.New("info", false, "dev")
			Expect(log).NotTo(BeNil())
			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
		})
	})

	DescribeTable("ParseLevel",
		func(name string, expected slog.Level) {
			Expect(logger.ParseLevel(name)).To(Equal(expected))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("info", "info", slog.LevelInfo),
		Entry("warn", "warn", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("upper case", "DEBUG", slog.LevelDebug),
		Entry("unknown falls back to info", "invalid", slog.LevelInfo),
	)

	Describe("NewWithWriter", func() {
		var buf *bytes.Buffer

		BeforeEach(func() {
			buf = &bytes.Buffer{}
		})

		It("should respect the level", func() {
			log := logger.NewWithWriter(buf, "warn", false, "dev")

			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeFalse())
			Expect(log.Enabled(ctx, slog.LevelWarn)).To(BeTrue())

			log.Info("hidden")
			Expect(buf.Len()).To(BeZero())
		})

		It("should write text with the environment outside prod", func() {
			log := logger.NewWithWriter(buf, "info", false, "dev")
			log.Info("Accepting connections", slog.Int("port", 8000))

			Expect(buf.String()).To(ContainSubstring(`msg="Accepting connections"`))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
			Expect(buf.String()).To(ContainSubstring("port=8000"))
		})

		It("should write JSON in prod", func() {
			log := logger.NewWithWriter(buf, "info", false, "prod")
			log.Warn("Upstream is down", slog.String("upstream", "example.com:80"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("msg", "Upstream is down"))
			Expect(record).To(HaveKeyWithValue("level", "WARN"))
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("upstream", "example.com:80"))
			Expect(record).To(HaveKeyWithValue("pid", BeNumerically("==", os.Getpid())))
		})

		It("should include the source when asked", func() {
			log := logger.NewWithWriter(buf, "info", true, "prod")
			log.Info("with source")

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKey("source"))
		})
	})
})
