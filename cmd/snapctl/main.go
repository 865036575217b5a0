package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fleetsnap/fleetsnap/internal/cli"
	"github.com/fleetsnap/fleetsnap/internal/collector"
)

var (
	serverURL  string
	outputJSON bool

	listPage     int
	listPageSize int
	seriesLimit  int

	keyDBPath   string
	keyHostname string
	keyNote     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "snapctl",
	Short: "CLI for the FleetSnap collector",
	Long: `snapctl is a command-line interface for the FleetSnap snapshot collector.

It provides commands to query hosts, snapshots, and aggregated series, and to
provision agent API keys against the collector's database.`,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check collector service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		data, err := client.Health()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(data)
		}

		fmt.Printf("Status: %v\n", data["status"])
		fmt.Printf("Database: %v\n", data["database"])
		return nil
	},
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List all reporting hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		hostnames, err := client.ListHosts()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(hostnames)
		}
		return cli.FormatHostsTable(hostnames)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest <hostname>",
	Short: "Show the newest snapshot for a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		view, err := client.LatestSnapshot(args[0])
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(view)
		}
		return cli.FormatSnapshotTable(view)
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <hostname>",
	Short: "List snapshots for a host, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		page, err := client.ListSnapshots(args[0], listPage, listPageSize)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(page)
		}
		return cli.FormatSnapshotListTable(page)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <id>",
	Short: "Show one snapshot by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid snapshot id: %s", args[0])
		}

		client := cli.NewClient(serverURL)
		view, err := client.GetSnapshot(id)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(view)
		}
		return cli.FormatSnapshotTable(view)
	},
}

var seriesCmd = &cobra.Command{
	Use:   "series <hostname>",
	Short: "Show the CPU/RAM series for a host in chronological order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := cli.NewClient(serverURL)
		points, err := client.GetSeries(args[0], seriesLimit)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(points)
		}
		return cli.FormatSeriesTable(points)
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Provision agent API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an API key, optionally pre-bound to a hostname",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := collector.NewDB(keyDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		secret := make([]byte, 24)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate key: %w", err)
		}

		key, err := db.CreateAPIKey(hex.EncodeToString(secret), keyHostname, keyNote)
		if err != nil {
			return fmt.Errorf("create key: %w", err)
		}

		fmt.Println(key.Key)
		return nil
	},
}

var apikeyDeactivateCmd = &cobra.Command{
	Use:   "deactivate <key>",
	Short: "Deactivate an API key without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := collector.NewDB(keyDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeactivateAPIKey(args[0]); err != nil {
			return fmt.Errorf("deactivate key: %w", err)
		}

		fmt.Println("deactivated")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Collector base URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output raw JSON")

	snapshotsCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	snapshotsCmd.Flags().IntVar(&listPageSize, "page-size", 25, "Page size (max 200)")

	seriesCmd.Flags().IntVar(&seriesLimit, "limit", 50, "Number of snapshots in the series")

	apikeyCmd.PersistentFlags().StringVar(&keyDBPath, "db", "./fleetsnap.db", "Path to the collector database")
	apikeyCreateCmd.Flags().StringVar(&keyHostname, "hostname", "", "Pre-bind the key to this hostname")
	apikeyCreateCmd.Flags().StringVar(&keyNote, "note", "", "Free-text note stored with the key")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	apikeyCmd.AddCommand(apikeyDeactivateCmd)

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(hostsCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(seriesCmd)
	rootCmd.AddCommand(apikeyCmd)
}
