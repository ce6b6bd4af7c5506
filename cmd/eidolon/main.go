package main

import (
	"bufio"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eidolon/eidolon/internal/config"
	"github.com/eidolon/eidolon/internal/discovery"
	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/engine"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/manifest"
	"github.com/eidolon/eidolon/internal/metrics"
	"github.com/eidolon/eidolon/internal/observability"
	"github.com/eidolon/eidolon/internal/pipeline"
	"github.com/eidolon/eidolon/internal/registry"
	"github.com/eidolon/eidolon/internal/security"

	_ "github.com/eidolon/eidolon/modules"
)

var (
	configFile  string
	logLevel    string
	logFormat   string
	moduleDir   string
	pipelineDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eidolon",
		Short: "Eidolon - Modular OSINT pipeline runtime",
		Long:  "Discovers signed data-processing modules, wires them over a typed message bus, and runs declarative pipelines",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, flags override)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&moduleDir, "module-dir", "", "Module directory (overrides MODULE_DIR)")
	rootCmd.PersistentFlags().StringVar(&pipelineDir, "pipeline-dir", "", "Pipeline directory (overrides PIPELINE_DIR)")

	rootCmd.AddCommand(
		runCmd(),
		validateCmd(),
		listCmd(),
		trustCmd(),
		signCmd(),
		verifyCmd(),
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.LoadFromEnv(cfg)

	if moduleDir != "" {
		cfg.ModuleDir = moduleDir
	}
	if pipelineDir != "" {
		cfg.PipelineDir = pipelineDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
	logging.Default().SetConsole(cfg.Logging.ActivityConsole)
	if cfg.Logging.ActivityFile != "" {
		if err := logging.Default().SetOutput(cfg.Logging.ActivityFile); err != nil {
			logging.Op().Warn("could not open activity log file", "path", cfg.Logging.ActivityFile, "error", err)
		}
	}
	return cfg, nil
}

// parseSetFlags splits --set id.key=value pairs into per-module override maps.
func parseSetFlags(sets []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	for _, s := range sets {
		eq := strings.Index(s, "=")
		if eq < 0 {
			return nil, fmt.Errorf("invalid --set %q: expected id.key=value", s)
		}
		ref, value := s[:eq], s[eq+1:]
		dot := strings.Index(ref, ".")
		if dot <= 0 || dot == len(ref)-1 {
			return nil, fmt.Errorf("invalid --set %q: expected id.key=value", s)
		}
		id, key := ref[:dot], ref[dot+1:]
		if out[id] == nil {
			out[id] = make(map[string]any)
		}
		out[id][key] = value
	}
	return out, nil
}

// promptOperator asks interactively whether to run an unverified module.
func promptOperator(rec domain.VerificationRecord) bool {
	fmt.Fprintf(os.Stderr, "Module %s %s. Run it anyway? [y/N] ",
		rec.ModulePath, security.StatusMessage(rec.Status))
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func runCmd() *cobra.Command {
	var (
		sets            []string
		dryRun          bool
		timeoutS        int
		outputPath      string
		securityMode    string
		allowUnverified bool
		ignoreWarnings  bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if securityMode != "" {
				cfg.Security.Mode = securityMode
			}

			overrides, err := parseSetFlags(sets)
			if err != nil {
				return err
			}

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
				go func() {
					if err := metrics.ServeMetrics(cfg.Metrics.Addr); err != nil {
						logging.Op().Warn("metrics listener stopped", "error", err)
					}
				}()
			}
			if cfg.Tracing.Enabled {
				if err := observability.Init(cmd.Context(), observability.Config{
					Enabled:     true,
					Exporter:    cfg.Tracing.Exporter,
					Endpoint:    cfg.Tracing.Endpoint,
					ServiceName: cfg.Tracing.ServiceName,
					SampleRate:  cfg.Tracing.SampleRate,
				}); err != nil {
					return fmt.Errorf("initializing tracing: %w", err)
				}
				defer observability.Shutdown(context.Background())
			}

			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}

			eng := engine.New(cfg, signers, engine.Options{
				PipelineName:    args[0],
				Overrides:       overrides,
				DryRun:          dryRun,
				Timeout:         time.Duration(timeoutS) * time.Second,
				IgnoreWarnings:  ignoreWarnings,
				OutputPath:      outputPath,
				SecurityMode:    domain.SecurityMode(cfg.Security.Mode),
				AllowUnverified: allowUnverified || cfg.Security.AllowUnverified,
				Prompt:          promptOperator,
			})
			return eng.Run(cmd.Context())
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override module config, id.key=value (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the pipeline without running it")
	cmd.Flags().IntVar(&timeoutS, "timeout", 0, "Pipeline timeout in seconds (0 = pipeline default)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Validation report output file")
	cmd.Flags().StringVar(&securityMode, "security-mode", "", "Security mode: paranoid, default, permissive")
	cmd.Flags().BoolVar(&allowUnverified, "allow-unverified", false, "Run unverified modules without prompting")
	cmd.Flags().BoolVar(&ignoreWarnings, "ignore-warnings", false, "Treat validation problems as warnings")
	return cmd
}

func validateCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "validate <pipeline>",
		Short: "Validate a pipeline without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}
			eng := engine.New(cfg, signers, engine.Options{
				PipelineName: args[0],
				DryRun:       true,
				OutputPath:   outputPath,
				SecurityMode: domain.SecurityModePermissive,
			})
			return eng.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "Validation report output file")
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List modules or pipelines",
	}
	cmd.AddCommand(listModulesCmd(), listPipelinesCmd())
	return cmd
}

func listModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List discovered modules and their verification status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}
			candidates, err := discovery.Scan(cfg.ModuleDir, signers, discovery.Options{
				SecurityMode: domain.SecurityModePermissive,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tSIGNER\tBUILT-IN\tDESCRIPTION")
			for _, c := range candidates {
				_, builtIn := registry.Lookup(c.Manifest.Name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
					c.Manifest.Name, c.Manifest.Version, c.Record.Status,
					c.Record.SignerID, builtIn, c.Manifest.Description)
			}
			return w.Flush()
		},
	}
}

func listPipelinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List available pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			infos, err := pipeline.List(cfg.PipelineDir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODULES\tDESCRIPTION")
			for _, info := range infos {
				desc := info.Description
				if info.Error != "" {
					desc = "ERROR: " + info.Error
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name, info.ModulesCount, desc)
			}
			return w.Flush()
		},
	}
}

func trustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage trusted module signers",
	}
	cmd.AddCommand(trustAddCmd(), trustRemoveCmd(), trustListCmd())
	return cmd
}

func trustAddCmd() *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   "add <signer-id> <pubkey.pem>",
		Short: "Add a trusted signer from a PEM public key file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pemData, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading public key: %w", err)
			}
			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}
			if err := signers.Add(args[0], string(pemData), comment); err != nil {
				return err
			}
			fmt.Printf("Added trusted signer %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "Operator-facing note for this signer")
	return cmd
}

func trustRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <signer-id>",
		Short: "Remove a trusted signer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}
			removed, err := signers.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no trusted signer %q", args[0])
			}
			fmt.Printf("Removed trusted signer %q\n", args[0])
			return nil
		},
	}
}

func trustListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted signers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNER\tCOMMENT")
			for id, entry := range signers.All() {
				fmt.Fprintf(w, "%s\t%s\n", id, entry.Comment)
			}
			return w.Flush()
		},
	}
}

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <module-dir> <private-key.pem>",
		Short: "Sign a module directory with an RSA private key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			dir := args[0]
			if !manifest.Exists(dir) {
				return fmt.Errorf("%s does not contain a module.yaml", dir)
			}

			priv, err := loadPrivateKey(args[1])
			if err != nil {
				return err
			}

			hash, err := security.CanonicalHash(dir)
			if err != nil {
				return err
			}
			sig, err := security.SignWithPrivateKey(priv, hash)
			if err != nil {
				return fmt.Errorf("signing: %w", err)
			}
			if err := security.WriteSignature(dir, sig); err != nil {
				return fmt.Errorf("writing signature: %w", err)
			}
			fmt.Printf("Signed %s (hash %s)\n", filepath.Base(dir), hash[:16])
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <module-dir>",
		Short: "Verify a module directory against the trusted signers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signers, err := security.LoadSignerStore(cfg.Security.TrustedSignersFile)
			if err != nil {
				return err
			}
			rec := security.Verify(args[0], signers)
			fmt.Printf("status: %s\n", rec.Status)
			if rec.SignerID != "" {
				fmt.Printf("signer: %s\n", rec.SignerID)
			}
			if rec.Hash != "" {
				fmt.Printf("hash:   %s\n", rec.Hash)
			}
			if rec.Status != domain.VerificationVerified {
				os.Exit(1)
			}
			return nil
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <module-name> <command>",
		Short: "Send a command character to a module out of band",
		Long:  "Instantiates the named built-in module and invokes a single command character (S status, R reset, P probe)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args[1]) != 1 {
				return fmt.Errorf("command must be a single character, got %q", args[1])
			}

			m, err := manifest.Load(filepath.Join(cfg.ModuleDir, args[0]))
			if err != nil {
				// No on-disk manifest; fall back to a registry-only probe.
				m = domain.ModuleManifest{Name: args[0]}
			}
			mod, ok := discovery.Build(m)
			if !ok {
				return fmt.Errorf("no built-in module %q (known: %s)", args[0], strings.Join(registry.Names(), ", "))
			}

			dev := mod.Invoke(args[1][0])
			fmt.Printf("name:     %s\n", dev.Name)
			fmt.Printf("firmware: %s\n", dev.Firmware)
			fmt.Printf("protocol: %s\n", dev.Protocol)
			for _, e := range dev.Errors {
				fmt.Printf("error:    %s\n", e)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("eidolon 1.0.0")
		},
	}
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s is not an RSA private key", path)
	}
	return key, nil
}
