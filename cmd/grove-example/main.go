// Command grove-example is a runnable demonstration of the end-to-end
// scenarios grove's package tests exercise in isolation: open a
// repository, stage and commit a tree, branch, diverge, and three-way
// merge. It stands in for the CLI, which remains a thin external shell.
package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/grovevc/grove/pkg/codec"
	"github.com/grovevc/grove/pkg/config"
	"github.com/grovevc/grove/pkg/contents/blob"
	"github.com/grovevc/grove/pkg/model"
	"github.com/grovevc/grove/pkg/repo"
	"github.com/grovevc/grove/pkg/store"
)

func main() {
	fmt.Println("Starting grove example")

	ctx := context.Background()
	absPath, _ := filepath.Abs("ExampleData/" + time.Now().Format("20060102-150405"))

	cfg := config.Default()
	cfg.Paths = []string{absPath}
	cfg.MinimumFreeGB = 1

	r, err := repo.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("opening repository: %v", err)
	}
	defer r.Close(ctx)

	master, err := store.Master(ctx, r)
	if err != nil {
		log.Fatalf("opening master store: %v", err)
	}

	if err := master.Set(ctx, model.Path{"greeting.txt"}, []byte("hello, grove"), nil); err != nil {
		log.Fatalf("staging greeting.txt: %v", err)
	}
	baseCommit, err := master.SetTree(ctx, model.Task{Owner: "example", Messages: []string{"add greeting"}})
	if err != nil {
		log.Fatalf("committing: %v", err)
	}
	fmt.Printf("committed %s\n", baseCommit.NodeHash)

	featureStore, err := master.Clone(ctx, "feature")
	if err != nil {
		log.Fatalf("cloning feature branch: %v", err)
	}
	if err := featureStore.Set(ctx, model.Path{"feature.txt"}, []byte("work in progress"), nil); err != nil {
		log.Fatalf("staging feature.txt: %v", err)
	}
	featureCommit, err := featureStore.SetTree(ctx, model.Task{Owner: "example", Messages: []string{"start feature"}})
	if err != nil {
		log.Fatalf("committing feature branch: %v", err)
	}

	if err := master.Set(ctx, model.Path{"greeting.txt"}, []byte("hello again, grove"), nil); err != nil {
		log.Fatalf("staging second edit: %v", err)
	}
	if _, err := master.SetTree(ctx, model.Task{Owner: "example", Messages: []string{"update greeting"}}); err != nil {
		log.Fatalf("committing second edit: %v", err)
	}

	merged, err := master.MergeWithCommit(ctx, codec.HashCommit(featureCommit), blob.Codec{}, blob.MetadataCodec{}, model.Task{Owner: "example", Messages: []string{"merge feature"}})
	if err != nil {
		log.Fatalf("merging feature into master: %v", err)
	}
	fmt.Printf("merged commit root %s with %d parents\n", merged.NodeHash, len(merged.Parents))

	history, err := master.History(ctx, 0)
	if err != nil {
		log.Fatalf("reading history: %v", err)
	}
	fmt.Printf("history has %d commits\n", len(history))
}
