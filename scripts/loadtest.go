//go:build ignore

// Loadtest opens many concurrent connections against the server, sends one
// HTTP/1.0 request on each and reports throughput, status codes and latency
// percentiles. It is meant for comparing the concurrency strategies.
//
// Usage:
//
//	go run scripts/loadtest.go --addr 127.0.0.1:8000 --path / --concurrency 50 --requests 5000
//	go run scripts/loadtest.go --addr 127.0.0.1:8000 --csv results.csv --out summary.json
package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
)

type result struct {
	idx      int
	status   int
	bytes    int64
	duration time.Duration
	err      error
}

func main() {
	var (
		addr        = pflag.String("addr", "127.0.0.1:8000", "server address")
		path        = pflag.String("path", "/", "request path")
		concurrency = pflag.Int("concurrency", 10, "number of concurrent clients")
		requests    = pflag.Int("requests", 100, "total number of connections to open")
		timeout     = pflag.Duration("timeout", 10*time.Second, "per-connection deadline")
		outJSON     = pflag.String("out", "", "write a JSON summary to this file")
		outCSV      = pflag.String("csv", "", "write one CSV row per request to this file")
		verbose     = pflag.BoolP("verbose", "v", false, "print every request")
	)
	pflag.Parse()

	jobs := make(chan int)
	results := make(chan result, *concurrency)

	var wg sync.WaitGroup
	var inFlight, maxInFlight atomic.Int32

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}

				r := fetch(*addr, *path, *timeout)
				r.idx = idx
				inFlight.Add(-1)
				results <- r
			}
		}()
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var csvWriter *csv.Writer
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		csvWriter = csv.NewWriter(f)
		csvWriter.Write([]string{"idx", "status", "bytes", "duration_ms", "error"})
	}

	var (
		success, failure int
		totalBytes       int64
		latencies        []time.Duration
		statusCodes      = map[int]int{}
	)

	for r := range results {
		latencies = append(latencies, r.duration)
		if r.err != nil {
			failure++
		} else {
			statusCodes[r.status]++
			totalBytes += r.bytes
			if r.status >= 200 && r.status <= 299 {
				success++
			} else {
				failure++
			}
		}

		if csvWriter != nil {
			errText := ""
			if r.err != nil {
				errText = r.err.Error()
			}
			csvWriter.Write([]string{
				strconv.Itoa(r.idx),
				strconv.Itoa(r.status),
				strconv.FormatInt(r.bytes, 10),
				fmt.Sprintf("%.3f", float64(r.duration.Microseconds())/1000.0),
				errText,
			})
		}

		if *verbose {
			fmt.Printf("idx=%d status=%d bytes=%d dur=%v err=%v\n", r.idx, r.status, r.bytes, r.duration, r.err)
		}
	}

	if csvWriter != nil {
		csvWriter.Flush()
	}

	totalDuration := time.Since(testStart)
	throughput := float64(len(latencies)) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s%s\n", *addr, *path)
	fmt.Printf("Requests: %d  Concurrency: %d  Peak in flight: %d\n", *requests, *concurrency, maxInFlight.Load())
	fmt.Printf("Success: %d  Failure: %d  Bytes: %d\n", success, failure, totalBytes)
	fmt.Printf("Duration: %v  Throughput: %.2f conn/s\n", totalDuration, throughput)

	fmt.Println("\nStatus codes:")
	var codes []int
	for k := range statusCodes {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pick := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		return latencies[int(float64(len(latencies)-1)*p)]
	}

	if len(latencies) > 0 {
		var sum time.Duration
		for _, d := range latencies {
			sum += d
		}
		fmt.Println("\nLatencies:")
		fmt.Printf("  samples=%d min=%v avg=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
			len(latencies), latencies[0], sum/time.Duration(len(latencies)), latencies[len(latencies)-1],
			pick(0.50), pick(0.90), pick(0.95), pick(0.99))
	}

	fmt.Printf("\nGOMAXPROCS=%d\n", runtime.GOMAXPROCS(0))

	if *outJSON != "" {
		report := map[string]interface{}{
			"target":         *addr + *path,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"peak_in_flight": maxInFlight.Load(),
			"success":        success,
			"failure":        failure,
			"bytes":          totalBytes,
			"duration_ms":    totalDuration.Milliseconds(),
			"throughput_cps": throughput,
			"status_codes":   statusCodes,
			"p50_ms":         float64(pick(0.50).Microseconds()) / 1000,
			"p90_ms":         float64(pick(0.90).Microseconds()) / 1000,
			"p95_ms":         float64(pick(0.95).Microseconds()) / 1000,
			"p99_ms":         float64(pick(0.99).Microseconds()) / 1000,
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}

// fetch opens one connection, sends a GET and reads the whole response.
func fetch(addr, path string, timeout time.Duration) result {
	start := time.Now()

	conn, err := net.DialTimeout("tcp4", addr, timeout)
	if err != nil {
		return result{duration: time.Since(start), err: err}
	}
	defer conn.Close()
	conn.SetDeadline(start.Add(timeout))

	if _, err := fmt.Fprintf(conn, "GET %s HTTP/1.0\r\nHost: %s\r\n\r\n", path, addr); err != nil {
		return result{duration: time.Since(start), err: err}
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return result{duration: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	return result{status: resp.StatusCode, bytes: n, duration: time.Since(start), err: err}
}
