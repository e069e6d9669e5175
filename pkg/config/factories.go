package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/collabtree/collabd/pkg/directory"
	badgerdir "github.com/collabtree/collabd/pkg/directory/badger"
	"github.com/collabtree/collabd/pkg/directory/memory"
	neo4jdir "github.com/collabtree/collabd/pkg/directory/neo4j"
	"github.com/collabtree/collabd/pkg/record"
)

// CreateConnector creates a directory connector based on configuration.
//
// The Type field selects the backend; the corresponding options map is
// decoded into the backend's own config type and handed to its
// constructor.
//
// Supported types:
//   - "memory": process-memory tree (development and tests)
//   - "badger": embedded BadgerDB store (single-node persistence)
//   - "neo4j": external Neo4j database (shared deployments)
func CreateConnector(ctx context.Context, cfg *DirectoryConfig) (directory.Connector, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryConnector(cfg.Memory)
	case "badger":
		return createBadgerConnector(cfg.Badger)
	case "neo4j":
		return createNeo4jConnector(ctx, cfg.Neo4j)
	default:
		return nil, fmt.Errorf("unknown directory backend type: %q", cfg.Type)
	}
}

// PathConfig derives the URI-to-path mapping from the directory section.
func PathConfig(cfg *DirectoryConfig) record.PathConfig {
	return record.PathConfig{
		Root:       cfg.Root,
		ServerRoot: cfg.ServerRoot,
		LeafLabel:  cfg.LeafLabel,
	}
}

func createMemoryConnector(options map[string]any) (directory.Connector, error) {
	var storeCfg memory.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory directory config: %w", err)
	}
	return memory.New(storeCfg), nil
}

func createBadgerConnector(options map[string]any) (directory.Connector, error) {
	var storeCfg badgerdir.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger directory config: %w", err)
	}
	if storeCfg.Path == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger directory backend: path is required")
	}

	store, err := badgerdir.New(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger directory backend: %w", err)
	}
	return store, nil
}

func createNeo4jConnector(ctx context.Context, options map[string]any) (directory.Connector, error) {
	var storeCfg neo4jdir.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode neo4j directory config: %w", err)
	}
	if storeCfg.URI == "" {
		return nil, fmt.Errorf("neo4j directory backend: uri is required")
	}

	store, err := neo4jdir.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j directory backend: %w", err)
	}
	return store, nil
}
