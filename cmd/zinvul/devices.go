package main

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	zinvul "github.com/byzin/Zinvul-sub001"
)

func newDevicesCmd(g *globalFlags) *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List available compute devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd.OutOrStdout(), g.options(), details)
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "open each device and report queues and local sizes")
	return cmd
}

// listDevices writes one table row per enumerated device. With details set
// every device is opened to report its queue count and 1-D local size.
func listDevices(w io.Writer, opts []zinvul.Option, details bool) error {
	p := message.NewPrinter(language.English)
	header := []string{"#", "BACKEND", "NAME", "VENDOR", "KIND"}
	if details {
		header = append(header, "QUEUES", "THREADS", "LOCAL SIZE")
	}

	var data [][]string
	for i, info := range zinvul.Enumerate(opts...) {
		row := []string{strconv.Itoa(i), info.Backend.String(), info.Name, info.Vendor, info.Kind}
		if details {
			cols, err := deviceDetails(p, info, opts)
			if err != nil {
				return err
			}
			row = append(row, cols...)
		}
		data = append(data, row)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func deviceDetails(p *message.Printer, info zinvul.DeviceInfo, opts []zinvul.Option) ([]string, error) {
	dev, err := zinvul.NewDevice(info, opts...)
	if err != nil {
		return nil, err
	}
	defer dev.Destroy()

	switch d := dev.(type) {
	case *zinvul.CPUDevice:
		return []string{
			strconv.Itoa(d.NumQueues()),
			p.Sprintf("%d", d.Threads()),
			"1",
		}, nil
	case *zinvul.GPUDevice:
		local := d.LocalSize(1)
		sizes := make([]string, len(local))
		for i, s := range local {
			sizes[i] = p.Sprintf("%d", s)
		}
		return []string{strconv.Itoa(d.NumQueues()), "-", strings.Join(sizes, "x")}, nil
	default:
		return []string{"-", "-", "-"}, nil
	}
}
