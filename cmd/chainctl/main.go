// chainctl runs rule chains from the command line: estimate, dry-run, or
// execute a chain file against a local ollama instance or a remote backend.
// No server, no Postgres; the chain comes straight from a YAML or JSON file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/internal/execbackend"
	"github.com/chainscribe/chainscribe/libtracker"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	defaultOllama  = "http://127.0.0.1:11434"
	defaultModel   = "phi3:3.8b"
	defaultTimeout = 5 * time.Minute
)

var rootCmd = &cobra.Command{
	Use:   "chainctl",
	Short: "Run LLM rule chains from chain files.",
	Long: `chainctl estimates, dry-runs, and executes rule chains defined in
YAML or JSON files. Chains run against a local Ollama instance by default,
or against a remote execution backend via --backend-url.

  Examples:
    chainctl estimate --chain polish.yaml --input draft.txt
    chainctl dry-run --chain polish.yaml --input @draft.txt
    cat draft.txt | chainctl execute --chain polish.yaml
    chainctl execute --chain polish.yaml --input @draft.txt --stream`,
	SilenceUsage: true,
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Compute the local advisory token estimate for a chain.",
	RunE:  runEstimate,
}

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Ask the execution backend for its estimate without executing.",
	RunE:  runDryRun,
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a chain and print the result.",
	RunE:  runExecute,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("chain", "", "Path to the chain file (YAML or JSON)")
	f.String("input", "", "Source text (or @file to read from a file; stdin if piped)")
	f.String("backend-url", "", "Remote execution backend base URL (default: local ollama)")
	f.String("backend-token", "", "Bearer token for the remote backend")
	f.String("ollama", defaultOllama, "Ollama base URL for local execution")
	f.String("model", defaultModel, "Fallback model for steps without an override")
	f.Duration("timeout", defaultTimeout, "Maximum execution time (e.g., 5m, 1h)")
	f.Bool("trace", false, "Enable operation telemetry on stderr")

	executeCmd.Flags().Bool("stream", false, "Stream chunks to stderr while executing")

	rootCmd.AddCommand(estimateCmd, dryRunCmd, executeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadChainFile reads and parses a chain payload from a YAML or JSON file.
func loadChainFile(path string) (*chainengine.ChainPayload, error) {
	if path == "" {
		return nil, fmt.Errorf("--chain is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain file: %w", err)
	}

	var payload chainengine.ChainPayload
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse chain JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse chain YAML: %w", err)
		}
	}
	if payload.Name == "" {
		payload.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &payload, nil
}

// resolveInput picks the source text: --input literal, @file, or stdin.
func resolveInput(cmd *cobra.Command) (string, error) {
	input, _ := cmd.Flags().GetString("input")
	if strings.HasPrefix(input, "@") {
		raw, err := os.ReadFile(strings.TrimPrefix(input, "@"))
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(raw), nil
	}
	if input != "" {
		return input, nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(raw), nil
	}
	return "", nil
}

func trackerFrom(cmd *cobra.Command) libtracker.ActivityTracker {
	trace, _ := cmd.Flags().GetBool("trace")
	if !trace {
		return libtracker.NoopTracker{}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return libtracker.NewLogActivityTracker(logger)
}

func backendFrom(cmd *cobra.Command, catalog *chainengine.Catalog, tracker libtracker.ActivityTracker) (chainengine.ExecutionBackend, error) {
	backendURL, _ := cmd.Flags().GetString("backend-url")
	if backendURL != "" {
		token, _ := cmd.Flags().GetString("backend-token")
		return execbackend.NewHTTPBackend(backendURL, token, nil, tracker), nil
	}
	ollamaURL, _ := cmd.Flags().GetString("ollama")
	model, _ := cmd.Flags().GetString("model")
	return execbackend.NewOllamaBackend(ollamaURL, model, nil, catalog, tracker)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(ctx, timeout)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	chainPath, _ := cmd.Flags().GetString("chain")
	payload, err := loadChainFile(chainPath)
	if err != nil {
		return err
	}
	input, err := resolveInput(cmd)
	if err != nil {
		return err
	}

	catalog := chainengine.NewCatalog()
	assembler := chainengine.NewAssembler(catalog)
	list, err := assembler.FromStored(payload)
	if err != nil {
		return err
	}

	chain := &chainengine.RuleChain{
		ID:                payload.ID,
		Name:              payload.Name,
		GlobalModelID:     payload.GlobalModelID,
		GlobalConstraints: payload.GlobalGenerationConstraints,
	}
	estimator := chainengine.NewEstimator(chainengine.DefaultEstimatorConfig())
	return printJSON(estimator.EstimateChain(input, chain, list.Steps()))
}

func runDryRun(cmd *cobra.Command, args []string) error {
	chainPath, _ := cmd.Flags().GetString("chain")
	payload, err := loadChainFile(chainPath)
	if err != nil {
		return err
	}
	input, err := resolveInput(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	catalog := chainengine.NewCatalog()
	tracker := trackerFrom(cmd)
	backend, err := backendFrom(cmd, catalog, tracker)
	if err != nil {
		return err
	}

	executor := chainengine.NewExecutor(backend, tracker)
	estimate, err := executor.DryRun(ctx, input, payload)
	if err != nil {
		return err
	}
	return printJSON(estimate)
}

func runExecute(cmd *cobra.Command, args []string) error {
	chainPath, _ := cmd.Flags().GetString("chain")
	payload, err := loadChainFile(chainPath)
	if err != nil {
		return err
	}
	input, err := resolveInput(cmd)
	if err != nil {
		return err
	}
	if input == "" {
		return fmt.Errorf("source text is required (use --input or pipe stdin)")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	catalog := chainengine.NewCatalog()
	tracker := trackerFrom(cmd)
	backend, err := backendFrom(cmd, catalog, tracker)
	if err != nil {
		return err
	}
	executor := chainengine.NewExecutor(backend, tracker)

	stream, _ := cmd.Flags().GetBool("stream")
	if !stream {
		result, err := executor.Execute(ctx, input, payload, nil)
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	parcels, err := executor.ExecuteStream(ctx, input, payload, nil)
	if err != nil {
		return err
	}
	for parcel := range parcels {
		switch {
		case parcel.Result != nil:
			fmt.Fprintln(os.Stderr)
			return printJSON(parcel.Result)
		case parcel.Err != nil:
			return parcel.Err
		default:
			fmt.Fprint(os.Stderr, parcel.Chunk)
		}
	}
	return fmt.Errorf("stream ended without a result")
}
