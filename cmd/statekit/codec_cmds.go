package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/micro-nova/statekit/internal/filecodec"
)

func (c *cli) encodeCmd() *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "encode <file>...",
		Short: "Print files as base64 data URLs",
		Long: `Print each file as a data:<mime>;base64,<payload> URL, one per line.

The MIME type comes from --mime, the file extension or the file contents,
in that order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs := make([]filecodec.Source, len(args))
			for i, path := range args {
				src := filecodec.NewPathSource(path)
				if mimeType != "" {
					src = src.WithMIMEType(mimeType)
				}
				srcs[i] = src
			}
			files, err := filecodec.NewConverter().EncodeAll(cmd.Context(), srcs...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				fmt.Fprintln(out, f.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type to declare for every file")
	return cmd
}

func (c *cli) decodeCmd() *cobra.Command {
	var (
		name     string
		mimeType string
		outDir   string
	)
	cmd := &cobra.Command{
		Use:   "decode <data-url|->",
		Short: "Write a data URL back to a file",
		Long: `Decode a data URL (or "-" to read it from stdin) and save the bytes as
--name in --dir. Without --name the raw bytes go to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}
			if mimeType == "" {
				if embedded, _, err := filecodec.ParseDataURL(text); err == nil {
					mimeType = embedded
				}
			}

			conv := filecodec.NewConverter()
			if name == "" {
				blob, err := conv.DecodeToBinary(text, mimeType)
				if err != nil {
					return err
				}
				_, err = blob.WriteTo(cmd.OutOrStdout())
				return err
			}
			f, err := conv.DecodeToFile(text, name, mimeType)
			if err != nil {
				return err
			}
			path, err := f.Save(outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes, %s)\n", path, f.Size(), f.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "file name to save as")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (default: the one in the data URL)")
	cmd.Flags().StringVar(&outDir, "dir", ".", "directory to save into")
	return cmd
}
