// Schema Generator
//
// Generates JSON Schema files from the Go types of the HTTP API so clients
// in other languages can validate requests and responses.
//
// Usage:
//
//	go run ./cmd/schema-gen -out ./schemas
//
// Output:
//
//	schemas/service.json
//	schemas/tasks.json
//	schemas/checkpoints.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/kosarica/place-service/internal/checkpoint"
	"github.com/kosarica/place-service/internal/controller"
	"github.com/kosarica/place-service/internal/handlers"
	"github.com/kosarica/place-service/internal/taskqueue"
)

// SchemaGroup represents a group of related schemas
type SchemaGroup struct {
	Name   string
	Types  []any
	Output string
}

func schemaGroups() []SchemaGroup {
	return []SchemaGroup{
		{
			Name: "service",
			Types: []any{
				handlers.HealthResponse{},
				handlers.ErrorResponse{},
				controller.ServiceStatus{},
				handlers.ServiceActionResponse{},
			},
			Output: "service.json",
		},
		{
			Name: "tasks",
			Types: []any{
				// Request types
				handlers.EnqueueTaskRequest{},
				handlers.ListDeadLettersRequest{},
				// Response types
				taskqueue.Task{},
				taskqueue.TaskProgress{},
				handlers.TaskProgressResponse{},
				handlers.ListDeadLettersResponse{},
				taskqueue.QueueStats{},
			},
			Output: "tasks.json",
		},
		{
			Name: "checkpoints",
			Types: []any{
				checkpoint.State{},
			},
			Output: "checkpoints.json",
		},
	}
}

func main() {
	outputDir := flag.String("out", "./schemas", "output directory")
	flag.Parse()

	written, err := generate(*outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Printf("Generated %s\n", path)
	}
	fmt.Println("Schema generation complete!")
}

// generate writes one file per group and returns their paths
func generate(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, group := range schemaGroups() {
		schema := generateGroupSchema(group)
		outputPath := filepath.Join(outputDir, group.Output)

		if err := writeSchema(schema, outputPath); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", group.Output, err)
		}
		written = append(written, outputPath)
	}
	return written, nil
}

// generateGroupSchema creates a combined schema with all types in a group
func generateGroupSchema(group SchemaGroup) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}

	definitions := make(map[string]any)

	for _, t := range group.Types {
		schema := reflector.Reflect(t)

		// Extract type name from $ref like "#/$defs/Task"
		typeName := ""
		if schema.Ref != "" {
			typeName = filepath.Base(schema.Ref)
		}

		for name, def := range schema.Definitions {
			definitions[name] = def
		}
		if typeName != "" && schema.Definitions[typeName] != nil {
			definitions[typeName] = schema.Definitions[typeName]
		}
	}

	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         fmt.Sprintf("https://kosarica.hr/schemas/places/%s.json", group.Name),
		"title":       fmt.Sprintf("%s API Types", capitalize(group.Name)),
		"description": fmt.Sprintf("JSON Schema for %s API types generated from Go structs", group.Name),
		"$defs":       definitions,
	}
}

// writeSchema writes a schema to a JSON file
func writeSchema(schema map[string]any, path string) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
