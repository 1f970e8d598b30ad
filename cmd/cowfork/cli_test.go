package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kahiteam/cowfork/internal/config"
	"github.com/kahiteam/cowfork/internal/scenario"
	"github.com/kahiteam/cowfork/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), t, args...)
}

func executeContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeTo(ctx, t, io.Discard, args...)
}

// executeTo is executeContext with stderr, where logs go, sent to errw.
func executeTo(ctx context.Context, t *testing.T, errw io.Writer, args ...string) (string, error) {
	t.Helper()
	resetCommands(rootCmd, ctx)
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errw)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// resetCommands restores flag defaults and hands ctx to every command.
// Cobra only fills a subcommand's context when it is nil, so without this
// a subcommand keeps the context of the first test that ran it.
func resetCommands(cmd *cobra.Command, ctx context.Context) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	cmd.SetContext(ctx)
	for _, c := range cmd.Commands() {
		resetCommands(c, ctx)
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"run", "init", "validate", "version", "completion"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"cowfork", "commit:", "built:", "go:", "os/arch:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q", want)
		}
	}
}

func TestUnknownSubcommand(t *testing.T) {
	if _, err := execute(t, "nonexistent"); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}

func TestInitStdout(t *testing.T) {
	out, err := execute(t, "init", "--stdout")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[[scenario.pages]]") {
		t.Errorf("init output missing scenario:\n%s", out)
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "cowfork.toml")
	if _, err := execute(t, "init", "-o", path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "init", "-o", path)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if _, err := execute(t, "init", "-o", path, "--force"); err != nil {
		t.Fatalf("--force: %v", err)
	}
}

func TestInitSizesMachine(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "cowfork.toml")
	if _, err := execute(t, "init", "-o", path, "--npages", "64", "--nenv", "4"); err != nil {
		t.Fatal(err)
	}
	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kernel.NPages != 64 || cfg.Kernel.NEnv != 4 {
		t.Errorf("kernel = %+v", cfg.Kernel)
	}

	bad := filepath.Join(testutil.TempDir(t), "cowfork.toml")
	if _, err := execute(t, "init", "-o", bad, "--nenv", "2000"); err == nil {
		t.Fatal("expected invalid nenv to be rejected")
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("invalid config was written")
	}
}

func TestValidate(t *testing.T) {
	good := testutil.WriteConfig(t, "[kernel]\nnpages = 64\n")
	out, err := execute(t, "validate", "-c", good)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("output = %q", out)
	}

	bad := testutil.WriteConfig(t, "[kernel]\nnpages = 1\n")
	if _, err := execute(t, "validate", "-c", bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunDefaultScenario(t *testing.T) {
	path := testutil.WriteConfig(t, "")
	out, err := execute(t, "run", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"AAAA"`, `"BBBB"`, "forked", "parent-exit", "child-exit", "free pages:"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunJSON(t *testing.T) {
	path := testutil.WriteConfig(t, "")
	out, err := execute(t, "run", "-c", path, "--json")
	if err != nil {
		t.Fatal(err)
	}
	var rep scenario.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(rep.Accesses) != 3 || rep.Accesses[2].Data != "AAAA" {
		t.Errorf("accesses = %+v", rep.Accesses)
	}
}

func TestRunLogsTagComponents(t *testing.T) {
	path := testutil.WriteConfig(t, "")
	logs := new(bytes.Buffer)
	if _, err := executeTo(context.Background(), t, logs, "run", "-c", path, "--log-level", "debug"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"component":"kernel"`, `"component":"runtime"`} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("logs missing %s:\n%s", want, logs)
		}
	}
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	path := testutil.WriteConfig(t, "")
	if _, err := execute(t, "run", "-c", path, "--log-level", "loud"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunMissingConfig(t *testing.T) {
	if _, err := execute(t, "run", "-c", "/nonexistent/cowfork.toml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunServesAPI(t *testing.T) {
	path := testutil.WriteConfig(t, "")
	addr := testutil.FreeTCPAddr(t)

	// An earlier run leaves its context on the subcommand.
	if _, err := execute(t, "run", "-c", path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := executeContext(ctx, t, "run", "-c", path, "--metrics-listen", addr)
		errc <- err
	}()

	client := &http.Client{Timeout: time.Second}
	testutil.WaitFor(t, func() bool {
		resp, err := client.Get("http://" + addr + "/api/v1/report")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second)

	resp, err := client.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`cowfork_forks_total{result="ok"} 1`,
		`cowfork_page_faults_total{result="resolved"} 1`,
		"cowfork_envs_destroyed_total 2",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
