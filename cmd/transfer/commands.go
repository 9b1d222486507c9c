package main

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/client"
)

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	var (
		contentType string
		threshold   int64
		partSize    int64
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its short id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]

			f, err := os.Open(filePath)
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", filePath)
			}

			if contentType == "" {
				contentType, err = detectContentType(f)
				if err != nil {
					return err
				}
			}

			c, err := newClientFromFlags(cmd,
				client.WithMultipartThreshold(threshold),
				client.WithPartSize(partSize),
				client.WithConcurrency(concurrency),
			)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			result, err := c.Upload(cmd.Context(), filepath.Base(filePath), contentType, f, info.Size())
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Upload successful!\n")
			fmt.Fprintf(out, "Short ID: %s\n", result.ShortID)
			fmt.Fprintf(out, "Key: %s\n", result.Key)
			if result.Multipart {
				fmt.Fprintf(out, "Parts: %d\n", result.Parts)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (detected when empty)")
	cmd.Flags().Int64Var(&threshold, "multipart-threshold", client.DefaultMultipartThreshold, "size in bytes from which multipart upload is used")
	cmd.Flags().Int64Var(&partSize, "part-size", 0, "requested part size in bytes (server default when 0)")
	cmd.Flags().IntVar(&concurrency, "concurrency", client.DefaultConcurrency, "parts uploaded in parallel")

	return cmd
}

// NewDownloadCommand creates the download command
func NewDownloadCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "download <short-id>",
		Short: "Download a file by short id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shortID := args[0]

			c, err := newClientFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			if outputPath == "" {
				outputPath = shortID
			}

			var w io.Writer
			if outputPath == "-" {
				w = cmd.OutOrStdout()
			} else {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := c.Download(cmd.Context(), shortID, w)
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}
			if outputPath != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d bytes to %s\n", n, outputPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file, - for stdout (defaults to the short id)")

	return cmd
}

// detectContentType uses the file extension, then sniffs the first 512 bytes
func detectContentType(f *os.File) (string, error) {
	if byExt := mime.TypeByExtension(filepath.Ext(f.Name())); byExt != "" {
		return byExt, nil
	}

	head := make([]byte, 512)
	n, err := f.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
