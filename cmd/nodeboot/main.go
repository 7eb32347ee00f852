package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/nodeboot/pkg/app"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/paths"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nodeboot",
	Short: "nodeboot - cluster node bootstrap",
	Long: `nodeboot prepares a cloud instance to join a cluster.

On start it detects the cloud it runs on, loads and validates the user data,
recovers the cluster's persistent data from the cluster bucket or the
instance, and hands control to the coordinator or worker manager.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"nodeboot version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Console log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write console logs as JSON")

	rootCmd.PersistentFlags().StringArray("set", nil, "Override a configuration key (key=value, repeatable)")
	rootCmd.PersistentFlags().String("user-data", "", "User data file (default <data-dir>/"+paths.UserDataFile+")")
	rootCmd.PersistentFlags().String("cloud", "", "Cloud type; detected when empty (ec2, openstack, opennebula, dummy)")
	rootCmd.PersistentFlags().String("data-dir", paths.DefaultDataDir, "Data directory for bootstrap state")
	rootCmd.PersistentFlags().String("pd-file", paths.DefaultInstancePDFile, "Instance persistent data file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nodeboot version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// appOptions builds application options from the persistent flags
func appOptions(cmd *cobra.Command) (app.Options, error) {
	sets, _ := cmd.Flags().GetStringArray("set")
	overrides, err := parseOverrides(sets)
	if err != nil {
		return app.Options{}, err
	}

	userData, _ := cmd.Flags().GetString("user-data")
	cloudType, _ := cmd.Flags().GetString("cloud")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	pdFile, _ := cmd.Flags().GetString("pd-file")

	return app.Options{
		Overrides:      overrides,
		UserDataFile:   userData,
		CloudType:      cloudType,
		DataDir:        dataDir,
		InstancePDFile: pdFile,
	}, nil
}

// parseOverrides turns key=value pairs into a mapping. Values are decoded
// as YAML scalars so "false" and "2" keep their types.
func parseOverrides(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", pair)
		}

		var value interface{}
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}
