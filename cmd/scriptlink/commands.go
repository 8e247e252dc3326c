package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/filegrind/scriptlink-go/config"
	"github.com/filegrind/scriptlink-go/transport"
	"github.com/filegrind/scriptlink-go/wire"
)

// inputFlags are shared by the commands that read a recorded capture
type inputFlags struct {
	configPath string
	maxFrame   int
}

func (f *inputFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "YAML config file supplying transport limits")
	flagSet.IntVar(&f.maxFrame, "max-frame", 0, "largest record to accept, in bytes (overrides config)")
}

func (f *inputFlags) limits() (wire.Limits, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return wire.Limits{}, err
	}
	limits := cfg.Limits()
	if f.maxFrame > 0 {
		limits.MaxFrame = f.maxFrame
	}
	return limits, nil
}

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "scriptlink",
		Short:         "Inspect scriptlink protocol traffic",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newFramesCmd())
	root.AddCommand(newPollResponseCmd())
	root.AddCommand(newScriptCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
		},
	}
}

func newFramesCmd() *cobra.Command {
	var flags inputFlags
	var diag bool
	cmd := &cobra.Command{
		Use:   "frames [file]",
		Short: "Decode a capture of length-prefixed CBOR frames",
		Long: "Reads length-prefixed CBOR frame records from file, or stdin when no file\n" +
			"is given, and prints one JSON object per frame.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := flags.limits()
			if err != nil {
				return err
			}
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()

			reader := wire.NewFrameReader(in)
			reader.SetLimits(limits)
			return dumpFrames(reader, cmd.OutOrStdout(), cmd.ErrOrStderr(), diag)
		},
	}
	flags.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&diag, "diag", false, "print CBOR diagnostic notation instead of JSON")
	return cmd
}

func dumpFrames(reader *wire.FrameReader, out, errOut io.Writer, diag bool) error {
	enc := json.NewEncoder(out)
	malformed := 0
	for {
		raw, err := reader.ReadRaw()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if diag {
			text, err := cbor.Diagnose(raw)
			if err != nil {
				malformed++
				fmt.Fprintf(errOut, "undecodable record: %v\n", err)
				continue
			}
			fmt.Fprintln(out, text)
			continue
		}
		frame, err := wire.DecodeFrame(raw)
		if err != nil {
			malformed++
			fmt.Fprintf(errOut, "%v\n", err)
			continue
		}
		if err := enc.Encode(frame); err != nil {
			return err
		}
	}
	if malformed > 0 {
		return fmt.Errorf("%d malformed records", malformed)
	}
	return nil
}

func newPollResponseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll-response [file]",
		Short: "Validate a JSON poll response and print its frames in dispatch order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()

			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			res, err := wire.DecodePollResponse(data)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, frame := range res.Frames {
				if err := enc.Encode(frame); err != nil {
					return err
				}
			}
			for _, malformed := range res.Malformed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", malformed)
			}
			if len(res.Malformed) > 0 {
				return fmt.Errorf("%d malformed entries", len(res.Malformed))
			}
			return nil
		},
	}
}

func newScriptCmd() *cobra.Command {
	var id, params string
	cmd := &cobra.Command{
		Use:   "script <command>",
		Short: "Print the page script that starts a command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var decoded map[string]any
			if params != "" {
				if err := json.Unmarshal([]byte(params), &decoded); err != nil {
					return fmt.Errorf("--params: %w", err)
				}
			}
			script, err := transport.CommandScript(wire.NewCommand(wire.ExecutionId(id), args[0], decoded))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), script)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "1", "execution id")
	cmd.Flags().StringVar(&params, "params", "", "command params as a JSON object")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [file]",
		Short: "Validate a config file and print the effective settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
