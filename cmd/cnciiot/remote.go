package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Phillip-Steyn/cnc-iiot/pkg/client"
)

func newAPIClient(f RemoteFlags) (*client.Client, error) {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout}
	if f.CACert != "" || f.Insecure {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert, SkipVerify: f.Insecure}
	}
	return client.New(cfg)
}

// status reports on a running daemon.
func (c command) status(ctx context.Context, f StatusFlags) error {
	api, err := newAPIClient(f.RemoteFlags)
	if err != nil {
		return err
	}
	st, err := api.Status(ctx)
	if err != nil && !st.OK && st.Uptime == "" {
		return err
	}
	if f.JSON {
		printJSON(c.out, st)
		return err
	}
	state := goodStyle.Render("ok")
	if !st.OK {
		state = badStyle.Render("unhealthy: " + st.Error)
	}
	t := newTable("daemon", "value").
		Row("status", state).
		Row("uptime", st.Uptime)
	if st.ActiveJob != nil {
		t.Row("active job", fmt.Sprint(*st.ActiveJob))
	} else {
		t.Row("active job", "-")
	}
	if p := st.Process; p != nil {
		t.Row("pid", fmt.Sprint(p.PID)).
			Row("cpu", fmt.Sprintf("%.1f%%", p.CPUPercent)).
			Row("memory", fmt.Sprintf("%.1f MB", p.MemoryMB)).
			Row("threads", fmt.Sprint(p.NumThreads))
	}
	fmt.Fprintln(c.out, t.Render())
	return err
}

// push uploads a controller log to a running daemon, which ingests it
// against its own active job.
func (c command) push(ctx context.Context, f PushFlags) error {
	if f.File == "" {
		return fmt.Errorf("--file is required")
	}
	api, err := newAPIClient(f.RemoteFlags)
	if err != nil {
		return err
	}
	fh, err := os.Open(f.File)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()
	stats, err := api.Ingest(ctx, fh)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, stats)
		return nil
	}
	renderStats(c.out, stats)
	return nil
}
