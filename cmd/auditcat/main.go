// Command auditcat inspects audit log directories.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/andreyvit/edelta/auditlog"
	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// config is read from the --config file; flags override it.
type config struct {
	FileName string `yaml:"file_name"`
	Payload  bool   `yaml:"payload"`
	Verbose  bool   `yaml:"verbose"`
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		cfg        config
		configPath string
	)
	rootCmd := &cobra.Command{
		Use:           "auditcat",
		Short:         "Inspect append-only audit logs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			return loadConfig(configPath, &cfg, cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfg.FileName, "pattern", auditlog.DefaultFileName, "segment file name pattern")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "log debug output to stderr")

	dumpCmd := &cobra.Command{
		Use:   "dump DIR",
		Short: "Print committed audit entries as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(out, args[0], &cfg)
		},
	}
	dumpCmd.Flags().BoolVarP(&cfg.Payload, "payload", "p", false, "decode entry payloads")

	verifyCmd := &cobra.Command{
		Use:   "verify DIR",
		Short: "Check segment checksums and report the first corruption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(out, args[0], &cfg)
		},
	}

	rootCmd.AddCommand(dumpCmd, verifyCmd)
	return rootCmd
}

// loadConfig fills cfg from a YAML file, leaving explicitly set flags alone.
func loadConfig(path string, cfg *config, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	flags := cmd.Flags()
	if file.FileName != "" && !flags.Changed("pattern") {
		cfg.FileName = file.FileName
	}
	if file.Payload && (flags.Lookup("payload") == nil || !flags.Changed("payload")) {
		cfg.Payload = true
	}
	if file.Verbose && !flags.Changed("verbose") {
		cfg.Verbose = true
	}
	return nil
}

func (cfg *config) options() auditlog.Options {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return auditlog.Options{
		FileName: cfg.FileName,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		Verbose:  cfg.Verbose,
	}
}

type entryLine struct {
	Batch   uint64 `json:"batch"`
	Time    string `json:"time"`
	Action  string `json:"action"`
	ID      string `json:"id"`
	Root    string `json:"root"`
	Parent  string `json:"parent,omitempty"`
	Entity  int32  `json:"entity"`
	Size    int    `json:"size"`
	Payload any    `json:"payload,omitempty"`
}

func runDump(out io.Writer, dir string, cfg *config) error {
	enc := json.NewEncoder(out)
	return auditlog.Scan(dir, cfg.options(), func(b *auditlog.Batch) error {
		for _, e := range b.Entries {
			line := entryLine{
				Batch:  b.Seq,
				Time:   b.Time.Format("2006-01-02T15:04:05Z07:00"),
				Action: e.Action.String(),
				ID:     e.ObjectID.String(),
				Root:   e.RootObjectID.String(),
				Entity: e.EntityID,
				Size:   len(e.Payload),
			}
			if !e.ParentObjectID.IsZero() {
				line.Parent = e.ParentObjectID.String()
			}
			if cfg.Payload && len(e.Payload) > 0 {
				var v any
				if err := msgpack.Unmarshal(e.Payload, &v); err != nil {
					return fmt.Errorf("batch %d, %v: payload: %w", b.Seq, e.ObjectID, err)
				}
				line.Payload = jsonSafe(v)
			}
			if err := enc.Encode(&line); err != nil {
				return err
			}
		}
		return nil
	})
}

// jsonSafe rewrites generically decoded msgpack values that encoding/json
// rejects: maps with non-string keys and non-finite floats.
func jsonSafe(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = jsonSafe(e)
		}
		return v
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = jsonSafe(e)
		}
		return m
	case []any:
		for i, e := range v {
			v[i] = jsonSafe(e)
		}
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
		return v
	case float32:
		return jsonSafe(float64(v))
	default:
		return v
	}
}

var errCorrupted = errors.New("audit log is corrupted")

func runVerify(out io.Writer, dir string, cfg *config) error {
	r, err := auditlog.Verify(dir, cfg.options())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, r)
	if r.Corruption != nil {
		return errCorrupted
	}
	return nil
}
