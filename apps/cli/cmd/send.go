package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/volley/packages/client"
	"github.com/abdul-hamid-achik/volley/packages/config"
	"github.com/abdul-hamid-achik/volley/packages/metrics"
	"github.com/abdul-hamid-achik/volley/packages/recorder"
)

var sendCmd = &cobra.Command{
	Use:   "send <url>",
	Short: "Send one or more asynchronous requests to a URL",
	Long: `Send submits requests asynchronously and waits for their results.

Examples:
  # Single GET
  volley send https://example.com/health

  # 20 concurrent GETs with FIFO wire ordering and a 2s timeout
  volley send https://example.com/items -n 20 --ordered --timeout 2s

  # POST with body and headers
  volley send https://example.com/items -X POST -d '{"name":"x"}' -H "Content-Type: application/json"

  # Record exchanges to SQLite
  volley send https://example.com/items -n 100 --record exchanges.db`,
	Args: cobra.ExactArgs(1),
	RunE: sendCommand,
}

var (
	sendMethodFlag      string
	sendDataFlag        string
	sendHeaderFlags     []string
	sendCountFlag       int
	sendOrderedFlag     bool
	sendTimeoutFlag     time.Duration
	sendBodyTimeoutFlag time.Duration
	sendRateFlag        float64
	sendInsecureFlag    bool
	sendConfigFlag      string
	sendRecordFlag      string
	sendNoColorFlag     bool
)

func init() {
	sendCmd.Flags().StringVarP(&sendMethodFlag, "method", "X", "GET", "HTTP method")
	sendCmd.Flags().StringVarP(&sendDataFlag, "data", "d", "", "request body")
	sendCmd.Flags().StringArrayVarP(&sendHeaderFlags, "header", "H", nil, "request header (\"Name: value\", repeatable)")
	sendCmd.Flags().IntVarP(&sendCountFlag, "count", "n", 1, "number of requests to submit")
	sendCmd.Flags().BoolVar(&sendOrderedFlag, "ordered", false, "guarantee per-connection send order (FIFO)")
	sendCmd.Flags().DurationVar(&sendTimeoutFlag, "timeout", 30*time.Second, "overall request timeout (0 disables)")
	sendCmd.Flags().DurationVar(&sendBodyTimeoutFlag, "body-timeout", 0, "body read timeout (default: inherit --timeout)")
	sendCmd.Flags().Float64Var(&sendRateFlag, "rate", 0, "max requests per second (0 = unlimited)")
	sendCmd.Flags().BoolVarP(&sendInsecureFlag, "insecure", "k", false, "skip TLS certificate validation")
	sendCmd.Flags().StringVarP(&sendConfigFlag, "config", "c", "", "YAML config file")
	sendCmd.Flags().StringVar(&sendRecordFlag, "record", "", "record exchanges to this SQLite file")
	sendCmd.Flags().BoolVar(&sendNoColorFlag, "no-color", false, "disable colored output")
}

func sendCommand(cmd *cobra.Command, args []string) error {
	if sendNoColorFlag {
		color.NoColor = true
	}

	opts := []client.ClientOption{
		client.WithTimeout(sendTimeoutFlag),
		client.WithGuaranteeOrder(sendOrderedFlag),
	}
	if sendBodyTimeoutFlag > 0 {
		opts = append(opts, client.WithBodyTimeout(sendBodyTimeoutFlag))
	}
	if sendRateFlag > 0 {
		opts = append(opts, client.WithRateLimit(sendRateFlag, 1))
	}
	if sendInsecureFlag {
		opts = append(opts, client.WithValidateSSL(false))
	}

	if sendConfigFlag != "" {
		cfg, err := config.Load(sendConfigFlag)
		if err != nil {
			return err
		}
		if cfg.Timeout > 0 {
			opts = append(opts, client.WithTimeout(cfg.GetTimeout()))
		}
		if cfg.BodyTimeout > 0 {
			opts = append(opts, client.WithBodyTimeout(cfg.GetBodyTimeout()))
		}
		if cfg.DialTimeout > 0 {
			opts = append(opts, client.WithDialTimeout(cfg.GetDialTimeout()))
		}
		opts = append(opts,
			client.WithGuaranteeOrder(cfg.GetGuaranteeOrder()),
			client.WithValidateSSL(cfg.GetValidateSSL()),
			client.WithDefaultHeaders(cfg.Headers),
		)
		if cfg.RateLimit > 0 {
			opts = append(opts, client.WithRateLimit(cfg.RateLimit, cfg.Burst))
		}
		if sendRecordFlag == "" {
			sendRecordFlag = cfg.RecordPath
		}
	}

	collector := metrics.NewCollector()
	opts = append(opts, client.WithMetrics(collector))

	if sendRecordFlag != "" {
		rec, err := recorder.Open(sendRecordFlag)
		if err != nil {
			return err
		}
		defer rec.Close()
		opts = append(opts, client.WithRecorder(rec))
	}

	c := client.New(args[0], opts...)
	defer c.Close()

	results := make([]*client.Result, 0, sendCountFlag)
	for i := 0; i < sendCountFlag; i++ {
		req := client.NewRequest(strings.ToUpper(sendMethodFlag), args[0])
		if sendDataFlag != "" {
			req.SetBody(sendDataFlag)
		}
		for _, h := range sendHeaderFlags {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
			}
			req.SetHeader(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		results = append(results, c.Do(req))
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	out := cmd.OutOrStdout()

	for i, res := range results {
		resp, err := res.Get()
		if err != nil {
			red.Fprintf(out, "  ✗ request %d: %v\n", i+1, err)
			continue
		}
		body, err := resp.ReadBody()
		if err != nil {
			red.Fprintf(out, "  ✗ request %d: %s, body failed: %v\n", i+1, resp.Status, err)
			continue
		}
		green.Fprintf(out, "  ✓ request %d: %s (%d bytes, %s)\n", i+1, resp.Status, len(body), resp.Duration.Round(time.Millisecond))
		if sendCountFlag == 1 {
			fmt.Fprintln(out, string(body))
		}
	}

	printSummary(out, collector)
	return nil
}

func printSummary(out io.Writer, collector *metrics.Collector) {
	s := collector.Snapshot()
	fmt.Fprintf(out, "\n%d requests: %d succeeded, %d failed\n", s.Total, s.Succeeded, s.Failed)
	for kind, n := range s.ByKind {
		fmt.Fprintf(out, "  %s: %d\n", kind, n)
	}
	if s.Total > 0 {
		fmt.Fprintf(out, "latency p50=%s p95=%s p99=%s max=%s\n",
			s.P50.Round(time.Microsecond), s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond), s.Max.Round(time.Microsecond))
	}
}
