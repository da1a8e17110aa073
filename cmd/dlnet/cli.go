package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/dlnet/internal/envconfig"
	"github.com/born-ml/dlnet/internal/logutil"
	"github.com/born-ml/dlnet/internal/network"
	"github.com/born-ml/dlnet/internal/server"
	"github.com/born-ml/dlnet/internal/version"
)

// NewCLI builds the dlnet command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dlnet",
		Short: "Load, inspect, run and convert neural network exports",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
	}
	rootCmd.PersistentFlags().String("generation", "", "Load with this runtime generation instead of detecting it")

	cobra.EnableCommandSorting = false

	inspectCmd := &cobra.Command{
		Use:   "inspect PATH",
		Short: "Show the tensors of a network",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
	inspectCmd.Flags().Bool("hidden", false, "Include hidden tensors")
	inspectCmd.Flags().Bool("json", false, "Print the network spec as JSON")
	inspectCmd.Flags().Bool("weights", false, "Print weight statistics")

	runCmd := &cobra.Command{
		Use:   "run PATH",
		Short: "Execute a network on JSON encoded buffers",
		Args:  cobra.ExactArgs(1),
		RunE:  RunHandler,
	}
	runCmd.Flags().StringArrayP("input", "i", nil, "Input buffer as ID=FILE (repeatable)")
	runCmd.Flags().StringArrayP("output", "o", nil, "Output or hidden tensor to return (repeatable, default all outputs)")
	runCmd.Flags().IntP("batch", "b", 1, "Batch size")

	convertCmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Write a network as a native export",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the dlnet server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
	serveCmd.SetUsageTemplate(serveCmd.UsageTemplate() + `
Environment Variables:
    DLNET_HOST              Address for the dlnet server (default 127.0.0.1:11500)
    DLNET_MODELS            Directory of exports to load at startup
    DLNET_LOAD_CONCURRENCY  Exports loaded in parallel at startup (default 4)
    DLNET_MAX_BATCH         Largest accepted batch size (default unlimited)
    DLNET_ORIGINS           A comma separated list of allowed origins
    DLNET_DEBUG             Show additional debug information (e.g. DLNET_DEBUG=1)
`)

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show the effective configuration",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dlnet version %s\n", version.Version)
		},
	}

	rootCmd.AddCommand(inspectCmd, runCmd, convertCmd, serveCmd, envCmd, versionCmd)
	return rootCmd
}

// openNetwork loads path honoring the --generation flag.
func openNetwork(cmd *cobra.Command, path string) (*network.Facade, error) {
	r := network.NewReader(nil)
	gen, _ := cmd.Flags().GetString("generation")

	var (
		h   *network.Handle
		err error
	)
	if gen != "" {
		h, err = r.ReadAs(gen, path)
	} else {
		h, err = r.Read(path)
	}
	if err != nil {
		return nil, err
	}
	return network.NewFacade(h, network.WithMaxBatchSize(int(envconfig.MaxBatchSize())))
}

func ConvertHandler(cmd *cobra.Command, args []string) error {
	f, err := openNetwork(cmd, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Save(args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
	return nil
}

func RunServer(cmd *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host())
	if err != nil {
		return err
	}
	return server.Serve(ln)
}

func EnvHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var data [][]string
	for _, k := range keys {
		v := vars[k]
		data = append(data, []string{v.Name, fmt.Sprintf("%v", v.Value), v.Description})
	}
	renderTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"}, data)
	return nil
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
