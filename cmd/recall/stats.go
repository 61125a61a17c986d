// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/recall/pkg/vectorstore"
)

type statsResult struct {
	Backend    string `json:"backend"`
	Dim        int    `json:"dim"`
	Entries    int    `json:"entries"`
	Collection string `json:"collection,omitempty"`
	Snapshot   string `json:"snapshot,omitempty"`
}

func (a *app) statsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the vector store size and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Len(ctx)
			if err != nil {
				return err
			}
			res := statsResult{
				Backend: string(vectorstore.BackendOf(store)),
				Dim:     store.Dim(),
				Entries: n,
			}
			if remote, ok := store.(*vectorstore.RemoteCollectionStore); ok {
				res.Collection = remote.Collection()
			} else {
				res.Snapshot = a.cfg.Store.Flat.SnapshotPath
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Backend:\t%s\n", res.Backend)
			fmt.Fprintf(tw, "Dimension:\t%d\n", res.Dim)
			fmt.Fprintf(tw, "Entries:\t%d\n", res.Entries)
			if res.Collection != "" {
				fmt.Fprintf(tw, "Collection:\t%s\n", res.Collection)
			}
			if res.Snapshot != "" {
				fmt.Fprintf(tw, "Snapshot:\t%s\n", res.Snapshot)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
