package commands

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/triage/pkg/exportutil"
	"github.com/marmos91/triage/pkg/netcap"
)

var (
	captureInterface string
	captureOutput    string
	captureFormat    string
)

// captureCmd runs a live capture until interrupted, then exports it.
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture live packets until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := netcap.StartCapture(captureInterface)
		if err != nil {
			return err
		}
		cmd.Printf("capture %s running; press Ctrl-C to stop\n", id)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		packets, err := netcap.StopCapture(id)
		if err != nil {
			return err
		}
		cmd.Printf("captured %d packets\n", len(packets))

		if captureOutput != "" {
			if err := exportutil.ExportCapture(captureFormat, captureOutput, packets); err != nil {
				return err
			}
			cmd.Printf("capture written to %s\n", captureOutput)
			return nil
		}

		stats := netcap.GetStatistics()
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureInterface, "interface", "", "capture interface (default: auto-select)")
	captureCmd.Flags().StringVar(&captureOutput, "output", "", "export file path")
	captureCmd.Flags().StringVar(&captureFormat, "format", "pcap", "export format: pcap or json")
}
