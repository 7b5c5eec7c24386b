// Bootinfo prints what an Android boot image carries without unpacking it:
// the boot header, the ARM64 kernel header and build banner, and whether the
// ramdisk has been patched with Magisk and which version.
//
// See 'bootinfo --help' for available commands.
package main

import (
	"fmt"
	"os"

	"bootinfo/config"
	"bootinfo/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	logLevel     string
	noColor      bool
	forcePayload bool
	partition    string

	cfg *config.Config
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bootinfo FILE",
	Short: "Inspect Android boot images",
	Long: `Read an Android boot, init_boot or vendor_boot image and report its header,
the ARM64 kernel header and banner, and the Magisk version found in the ramdisk.

FILE may also be a full OTA payload.bin, in which case the boot partition is
extracted in memory first.`,
	Example: `  # Inspect a boot image
  bootinfo boot.img

  # Inspect the boot partition of an OTA payload
  bootinfo --partition boot payload.bin

  # List ramdisk entries
  bootinfo ls init_boot.img`,
	Args:              cobra.ExactArgs(1),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runInspect,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file (default $"+config.ConfigEnvVar+")")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default $"+logging.LogLevelEnvVar+")")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&forcePayload, "payload", false, "treat FILE as an OTA payload.bin")
	flags.StringVar(&partition, "partition", "", "partition to extract from an OTA payload (default init_boot, then boot)")

	rootCmd.AddCommand(lsCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := logging.Initialize(logLevel); err != nil {
		return err
	}
	if noColor || cfg.NoColor {
		color.NoColor = true
	}
	if partition == "" {
		partition = cfg.Partition
	}
	return nil
}
