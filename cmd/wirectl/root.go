package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"typedrpc/rpc/codec"
	"typedrpc/rpc/types"
)

// app holds the flags shared by every command.
type app struct {
	typeExpr string
	format   string
	maxDepth int
	maxSize  int
	verbose  bool

	logger *zap.Logger
	codec  *codec.Codec
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "wirectl",
		Short: "Encode, decode and check typed wire values",
		Long: `wirectl converts between JSON and the binary wire format described by a
type expression such as LIST(UINT32) or DICTIONARY(STRING, TUPLE(BOOL, DOUBLE)).

Bytes are written and read as hex by default. BYTES values are base64 strings
in JSON and DICTIONARY values are objects or arrays of [key, value] pairs.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.verbose {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
				a.logger = logger
			}
			a.codec = codec.New(codec.WithMaxDepth(a.maxDepth), codec.WithMaxSize(a.maxSize))
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.typeExpr, "type", "t", "", "type expression, e.g. LIST(UINT32)")
	flags.StringVarP(&a.format, "format", "f", "hex", "byte format: hex|base64")
	flags.IntVar(&a.maxDepth, "max-depth", codec.DefaultMaxDepth, "deepest type expression accepted, 0 for no limit")
	flags.IntVar(&a.maxSize, "max-size", codec.DefaultMaxSize, "largest encoding accepted in bytes, 0 for no limit")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(a.encodeCmd(), a.decodeCmd(), a.checkCmd())
	return root
}

func (a *app) encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode VALUE_JSON",
		Short: "Encode a JSON value",
		Long:  "Encode a JSON value as the type given by --type. Pass - to read the value from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := a.parseType()
			if err != nil {
				return err
			}
			input, err := a.readArg(cmd, args[0])
			if err != nil {
				return err
			}
			decoder := json.NewDecoder(bytes.NewReader(input))
			decoder.UseNumber()
			var raw any
			if err = decoder.Decode(&raw); err != nil {
				return fmt.Errorf("parse value: %w", err)
			}
			val, err := fromJSON(raw, typ)
			if err != nil {
				return fmt.Errorf("value does not match %s: %w", typ, err)
			}
			data, err := a.codec.Encode(val, typ)
			if err != nil {
				return err
			}
			a.logger.Debug("encoded", zap.Stringer("type", typ), zap.Int("bytes", len(data)))
			out, err := a.formatBytes(data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func (a *app) decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode BYTES",
		Short: "Decode bytes into JSON",
		Long:  "Decode hex (or base64 with --format base64) bytes as the type given by --type. Pass - to read them from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := a.parseType()
			if err != nil {
				return err
			}
			input, err := a.readArg(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := a.parseBytes(string(input))
			if err != nil {
				return err
			}
			val, err := a.codec.Decode(data, typ)
			if err != nil {
				return err
			}
			a.logger.Debug("decoded", zap.Stringer("type", typ), zap.Int("bytes", len(data)))
			out, err := json.Marshal(toJSON(val, typ))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate a type expression and print its canonical form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := a.parseType()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), typ.String())
			return err
		},
	}
}

func (a *app) parseType() (*types.Type, error) {
	if a.typeExpr == "" {
		return nil, fmt.Errorf("--type is required")
	}
	typ, err := types.Parse(a.typeExpr)
	if err != nil {
		return nil, err
	}
	if err = typ.Validate(a.maxDepth); err != nil {
		return nil, err
	}
	a.logger.Debug("parsed type", zap.String("expr", a.typeExpr), zap.Stringer("type", typ))
	return typ, nil
}

func (a *app) readArg(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	return io.ReadAll(cmd.InOrStdin())
}

func (a *app) formatBytes(data []byte) (string, error) {
	switch a.format {
	case "hex":
		return hex.EncodeToString(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return "", fmt.Errorf("unknown format %q", a.format)
}

func (a *app) parseBytes(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	switch a.format {
	case "hex":
		return hex.DecodeString(s)
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, fmt.Errorf("unknown format %q", a.format)
}
