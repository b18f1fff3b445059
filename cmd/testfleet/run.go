package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/testfleet/pkg/dispatch"
	"github.com/odvcencio/testfleet/pkg/fileset"
	"github.com/odvcencio/testfleet/pkg/observability"
	"github.com/odvcencio/testfleet/pkg/suite"
)

var errRunFailed = errors.New("test run failed")

type runOptions struct {
	server   string
	manifest string
	filter   []string
	timeout  time.Duration
	watch    bool
	dryRun   bool
}

func runRunCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	server := fs.String("server", "", "testfleet server URL (default: server.url, then http://server.bind)")
	manifest := fs.String("manifest", "testfleet.yaml", "suite manifest listing load/test/serve/plugin globs")
	filter := fs.String("filter", "", "comma-separated test name filter")
	timeout := fs.Duration("timeout", 0, "run timeout (default: server dispatch.timeout)")
	watch := fs.Bool("watch", false, "re-run whenever a suite file changes")
	dryRun := fs.Bool("dry-run", false, "list the tests each browser would run without running them")
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	opts := runOptions{
		server:   strings.TrimSpace(*server),
		manifest: *manifest,
		timeout:  *timeout,
		watch:    *watch,
		dryRun:   *dryRun,
	}
	if *filter != "" {
		opts.filter = strings.Split(*filter, ",")
	}
	if opts.server == "" {
		cfg, err := serveLoadConfigFn(*configPath)
		if err != nil {
			return withExitCode(err, exitConfig)
		}
		opts.server = cfg.Server.URL
		if opts.server == "" {
			opts.server = "http://" + cfg.Server.Bind
		}
	}

	m, err := suite.LoadManifest(opts.manifest)
	if err != nil {
		return withExitCode(err, exitConfig)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := &runClient{baseURL: strings.TrimRight(opts.server, "/"), http: &http.Client{}, out: os.Stdout}
	if !opts.watch {
		return client.runOnce(ctx, m, opts)
	}
	return client.watch(ctx, m, opts)
}

type runClient struct {
	baseURL string
	http    *http.Client
	out     io.Writer
}

func (c *runClient) runOnce(ctx context.Context, m *suite.Manifest, opts runOptions) error {
	tc, err := m.Build()
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	report, err := c.post(ctx, tc, opts)
	if err != nil {
		return err
	}
	printReport(c.out, report)
	if !report.Success {
		return withExitCode(errRunFailed, exitRunFailed)
	}
	return nil
}

// watch runs once, then again after every batch of suite changes. Changes
// that arrive during a run queue a single follow-up run.
func (c *runClient) watch(ctx context.Context, m *suite.Manifest, opts runOptions) error {
	w, err := suite.NewWatcher(m, 0, observability.NopLogger())
	if err != nil {
		return withExitCode(err, exitStartup)
	}
	defer w.Close()

	trigger := make(chan struct{}, 1)
	w.Subscribe("", func(batch []suite.Change) {
		for _, change := range batch {
			fmt.Fprintf(c.out, "%s %s\n", change.Type, change.Path)
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	go func() { _ = w.Run(ctx) }()

	for {
		if err := c.runOnce(ctx, m, opts); err != nil && !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		fmt.Fprintln(c.out, "watching for changes...")
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
		}
	}
}

type runPayload struct {
	TestCase fileset.TestCase `json:"testCase"`
	Filter   []string         `json:"filter,omitempty"`
	Timeout  string           `json:"timeout,omitempty"`
	DryRun   bool             `json:"dryRun,omitempty"`
}

func (c *runClient) post(ctx context.Context, tc fileset.TestCase, opts runOptions) (*dispatch.RunReport, error) {
	payload := runPayload{TestCase: tc, Filter: opts.filter, DryRun: opts.dryRun}
	if opts.timeout > 0 {
		payload.Timeout = opts.timeout.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, withExitCode(fmt.Errorf("contact server at %s: %w", c.baseURL, err), exitStartup)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusServiceUnavailable:
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var report dispatch.RunReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode run report: %w", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		printReport(c.out, &report)
		return nil, withExitCode(errors.New("no browsers are captured"), exitNoBrowsers)
	}
	return &report, nil
}

func printReport(w io.Writer, report *dispatch.RunReport) {
	ids := make([]string, 0, len(report.Browsers))
	for id := range report.Browsers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		b := report.Browsers[id]
		passed := 0
		for _, r := range b.Results {
			if r.Passed() {
				passed++
			}
		}
		if report.DryRun {
			fmt.Fprintf(w, "%-40s %-10s %d tests\n", b.Info.String(), b.Status, len(b.Expected))
			for _, name := range b.Expected {
				fmt.Fprintf(w, "  %s\n", name)
			}
			continue
		}
		fmt.Fprintf(w, "%-40s %-10s %d/%d passed\n", b.Info.String(), b.Status, passed, len(b.Results))
	}
	for _, f := range report.Failures {
		target := f.Browser
		if f.Test != "" {
			target += " " + f.Test
		}
		fmt.Fprintf(w, "  %s: %s: %s\n", f.Kind, strings.TrimSpace(target), f.Message)
	}

	status := "PASSED"
	if !report.Success {
		status = "FAILED"
	}
	if report.DryRun {
		status += " (dry run)"
	}
	fmt.Fprintf(w, "%s run %s: %d passed, %d failures across %d browsers\n",
		status, report.RunID, report.Passed(), len(report.Failures), len(report.Browsers))
}
