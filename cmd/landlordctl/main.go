// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// landlordctl is an operator CLI for inspecting and manually evicting
// entries from the container catalog, grounded on tools/ctl's
// cobra-subcommand-per-operation layout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"github.com/fatih/color"
	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/landlord"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	project    string
	maxStorage int64
)

var rootCmd = &cobra.Command{
	Use:   "landlordctl [subcommand]",
	Short: "An operator CLI for the container catalog",
}

func mustCatalog(ctx context.Context) catalog.Catalog {
	if project == "" {
		log.Fatal("--project is required")
	}
	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		log.Fatal(errors.Wrap(err, "creating firestore client"))
	}
	return catalog.NewFirestoreCatalog(client)
}

func mustStore(ctx context.Context) objectstore.Store {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatal(errors.Wrap(err, "creating gcs client"))
	}
	return objectstore.NewGCSStore(client, objectstore.SignerOptions{})
}

var statusCmd = &cobra.Command{
	Use:   "status <container-id>",
	Short: "Print the catalog row for a container id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		c, err := mustCatalog(ctx).Get(ctx, args[0])
		if err != nil {
			color.Red("error: %v", err)
			os.Exit(1)
		}
		printContainer(c)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all containers eligible for eviction, most recently used first",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		containers, err := mustCatalog(ctx).ListEvictionCandidates(ctx)
		if err != nil {
			color.Red("error: %v", err)
			os.Exit(1)
		}
		sort.Slice(containers, func(i, j int) bool {
			return containers[i].LastUsed.After(containers[j].LastUsed)
		})
		for _, c := range containers {
			printContainer(c)
		}
	},
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Run a manual eviction pass down to --max-storage bytes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cat := mustCatalog(ctx)
		store := mustStore(ctx)
		registry := &noopRegistry{}
		if err := landlord.Evict(ctx, cat, store, registry, maxStorage); err != nil {
			color.Red("error: %v", err)
			os.Exit(1)
		}
		color.Green("eviction pass complete")
	},
}

// noopRegistry is used by the manual `evict` subcommand, which runs against
// GCS/Firestore directly and has no local docker daemon to delete images
// from; a manual eviction pass leaves registry and daemon images in place.
type noopRegistry struct{}

func (noopRegistry) Delete(ctx context.Context, imageTag string) error { return nil }

func printContainer(c catalog.Container) {
	fmt.Printf("%s\n", color.CyanString(c.ID))
	fmt.Printf("  last_used:   %s\n", c.LastUsed.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("  building:    %s\n", orNone(c.Building))
	fmt.Printf("  docker_url:  %s\n", orNone(c.DockerURL))
	fmt.Printf("  singularity: %s\n", orNone(c.SingularityURL))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func main() {
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "GCP project ID")
	evictCmd.Flags().Int64Var(&maxStorage, "max-storage", 2_000_000_000, "total bytes of artifacts to retain")
	rootCmd.AddCommand(statusCmd, listCmd, evictCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
