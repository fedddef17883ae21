package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/host/relay"
)

// Output formats of the compile command.
const (
	outputAuto = "auto"
	outputJSON = "json"
	outputText = "text"
)

// compileFailedError reports that the compiler rejected the program. The
// result has already been printed.
type compileFailedError struct {
	msg string
}

func (e *compileFailedError) Error() string { return "compilation failed: " + e.msg }

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var fail *compileFailedError
	switch {
	case stderrors.As(err, &fail):
		return 2
	case errors.IsStartup(err):
		return 3
	default:
		return 1
	}
}

type compileOptions struct {
	witnessFile string
	witnessJSON string
	output      string
}

func newCompileCmd(a *app) *cobra.Command {
	var opts compileOptions
	cmd := &cobra.Command{
		Use:   "compile [file|-]",
		Short: "Compile a program and print its CMR",
		Long: `Compile a Simplicity program read from a file or stdin.

The compiler runs in-process unless --relay (or SIMPLICITY_RELAY_URL) names
a relay, in which case the request is forwarded there. Exit status is 2
when the compiler rejects the program and 3 when no compiler is available.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCompile(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.witnessFile, "witness", "w", "", "witness JSON file")
	cmd.Flags().StringVar(&opts.witnessJSON, "witness-json", "", "witness JSON text")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputAuto, "output format: auto, json or text")
	cmd.Flags().String("relay", "", "relay base URL")
	cmd.MarkFlagsMutuallyExclusive("witness", "witness-json")
	return cmd
}

func (a *app) runCompile(cmd *cobra.Command, args []string, opts compileOptions) error {
	ctx := cmd.Context()

	source, err := readSource(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	witness := opts.witnessJSON
	if opts.witnessFile != "" {
		data, err := os.ReadFile(opts.witnessFile)
		if err != nil {
			return fmt.Errorf("read witness: %w", err)
		}
		witness = string(data)
	}

	adapter, closeFn, err := a.compileAdapter()
	if err != nil {
		return err
	}
	defer closeFn(context.WithoutCancel(ctx))

	res, err := adapter.Submit(ctx, compiler.Request{Source: source, WitnessData: witness})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(opts.output, out) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, formatResult(res))
	}
	if res.Error != nil {
		return &compileFailedError{msg: *res.Error}
	}
	return nil
}

// compileAdapter returns the adapter the compile command submits to and
// its teardown.
func (a *app) compileAdapter() (host.Adapter, func(context.Context), error) {
	if a.cfg.RelayURL != "" {
		c := relay.NewClient(a.cfg.RelayURL, relay.WithNormalizer(compiler.NewNormalizer(a.cfg.Mode)))
		return c, func(context.Context) {}, nil
	}

	s, err := a.newStack()
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.provider.NewSession("cli")
	if err != nil {
		return nil, nil, err
	}
	pipe := host.NewPipeline(sess, s.normalizer, append(a.pipelineOptions(s), host.WithHost("cli"))...)
	return pipe, func(ctx context.Context) {
		_ = pipe.Close(ctx)
		_ = s.Close(ctx)
	}, nil
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}

// wantJSON reports whether results go out as JSON. auto picks text for
// terminals only.
func wantJSON(format string, out io.Writer) bool {
	switch format {
	case outputJSON:
		return true
	case outputText:
		return false
	}
	f, ok := out.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

var (
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func formatResult(res *compiler.Result) string {
	var b strings.Builder
	if res.Error != nil {
		b.WriteString(errStyle.Render("Compilation failed") + "\n")
		b.WriteString(*res.Error + "\n")
	} else {
		b.WriteString(okStyle.Render("Compiled") + "\n")
		b.WriteString(labelStyle.Render("CMR:     ") + *res.CMR + "\n")
		if len(res.Witness) > 0 {
			b.WriteString(labelStyle.Render("Witness: ") + string(res.Witness) + "\n")
		}
	}
	md := res.Metadata
	fmt.Fprintf(&b, "%s%d bytes, %d lines, mode %s\n", labelStyle.Render("Source:  "), md.SourceSizeBytes, md.SourceLines, md.Mode)
	if md.HasWitness {
		fmt.Fprintf(&b, "%s%d variables\n", labelStyle.Render("Witness: "), md.WitnessVariables)
	}
	return b.String()
}
