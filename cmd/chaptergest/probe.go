package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/chaptergest/internal/sizer"
)

var probeFormat string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print the accelerator probe and the chunk budget it yields",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		limits := cfg.Limits()
		info, probeErr := (&sizer.NvidiaSMI{}).Probe(cmd.Context())
		if probeErr != nil {
			info = sizer.SystemInfo{Reason: fmt.Sprintf("accelerator probe failed: %v", probeErr)}
		}
		d := sizer.Size(info, limits)

		out := map[string]any{
			"accelerator":  info.Accelerator,
			"free_gb":      info.FreeGB,
			"total_gb":     info.TotalGB,
			"memory_basis": string(limits.Basis),
			"budget_chars": int(d.Budget),
			"fallback":     d.Fallback,
			"reason":       d.Reason,
		}
		switch probeFormat {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(out)
		default:
			return fmt.Errorf("invalid --format %q (want yaml or json)", probeFormat)
		}
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeFormat, "format", "f", "yaml", "output format: yaml or json")
}
