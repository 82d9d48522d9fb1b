package main

import (
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage directories watched by a running server",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "server URL")

	add := &cobra.Command{
		Use:   "add <dir>",
		Short: "Watch a directory and index its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			var resp struct {
				Path string `json:"path"`
			}
			body := map[string]string{"path": abs}
			if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/api/v1/watch/directories", nil, body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", resp.Path)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <dir>",
		Short: "Stop watching a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			params := url.Values{"path": {abs}}
			if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodDelete, "/api/v1/watch/directories", params, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped watching %s\n", abs)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Directories []string `json:"directories"`
			}
			if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/api/v1/watch/directories", nil, nil, &resp); err != nil {
				return err
			}
			if len(resp.Directories) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No directories watched")
				return nil
			}
			for _, d := range resp.Directories {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
