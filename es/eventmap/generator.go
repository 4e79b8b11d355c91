// Package eventmap generates the glue code between versioned domain event
// structs and es.Event: EventTypeOf, ToESEvents/FromESEvents, and a
// To<Type>V<N>/From<Type>V<N> helper pair per discovered event. Run it via
// the eventmap-gen command, typically from a go:generate directive next to
// the package holding your domain events.
package eventmap

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// EventInfo represents a discovered domain event struct.
type EventInfo struct {
	Name        string
	PackageName string
	ImportPath  string
	Fields      []FieldInfo
	Version     int
}

// FieldInfo represents a struct field.
type FieldInfo struct {
	Name     string
	Type     string
	JSONTag  string
	Optional bool
}

// Config configures the code generation.
type Config struct {
	InputDir    string // Directory containing domain events
	OutputDir   string // Directory where generated code will be written
	OutputFile  string // Name of the generated file (default: event_mapping.gen.go)
	PackageName string // Package name for generated code
	ModulePath  string // Go module path for generating import paths
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		OutputFile:  "event_mapping.gen.go",
		PackageName: "generated",
	}
}

// Generator generates event mapping code.
type Generator struct {
	config Config
	events []EventInfo
}

// NewGenerator creates a new generator with the given configuration.
func NewGenerator(config *Config) *Generator {
	return &Generator{
		config: *config,
		events: make([]EventInfo, 0),
	}
}

// Discover walks the input directory and discovers all domain event structs.
// Events are expected to live under version directories (.../v1/, .../v2/,
// ...); a struct outside any such directory defaults to version 1.
func (g *Generator) Discover() error {
	return filepath.WalkDir(g.config.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		version := g.extractVersion(path)

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		packageName := file.Name.Name
		importPath := g.buildImportPath(path)

		for _, decl := range file.Decls {
			genDecl, ok := decl.(*ast.GenDecl)
			if !ok || genDecl.Tok != token.TYPE {
				continue
			}

			for _, spec := range genDecl.Specs {
				typeSpec, ok := spec.(*ast.TypeSpec)
				if !ok || !typeSpec.Name.IsExported() {
					continue
				}

				structType, ok := typeSpec.Type.(*ast.StructType)
				if !ok {
					continue
				}

				fields := g.extractFields(structType)

				g.events = append(g.events, EventInfo{
					Name:        typeSpec.Name.Name,
					PackageName: packageName,
					ImportPath:  importPath,
					Version:     version,
					Fields:      fields,
				})
			}
		}

		return nil
	})
}

// extractVersion extracts the version number from the directory path.
// Returns 1 if no version directory is found or if parsing fails.
func (g *Generator) extractVersion(path string) int {
	versionRegex := regexp.MustCompile(`/v(\d+)/`)
	matches := versionRegex.FindStringSubmatch(path)
	if len(matches) > 1 {
		var version int
		_, err := fmt.Sscanf(matches[1], "%d", &version)
		if err != nil || version < 1 {
			return 1
		}
		return version
	}
	return 1
}

// buildImportPath builds the import path for a given file path.
func (g *Generator) buildImportPath(filePath string) string {
	relPath, err := filepath.Rel(g.config.InputDir, filepath.Dir(filePath))
	if err != nil {
		relPath = filepath.Dir(filePath)
	}

	if g.config.ModulePath != "" {
		return filepath.Join(g.config.ModulePath, relPath)
	}

	absInput, err := filepath.Abs(g.config.InputDir)
	if err != nil {
		return filepath.ToSlash(relPath)
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return filepath.ToSlash(relPath)
	}
	relPath, err = filepath.Rel(absInput, filepath.Dir(absFile))
	if err != nil {
		return filepath.ToSlash(relPath)
	}

	return filepath.ToSlash(relPath)
}

// extractFields extracts field information from a struct type.
func (g *Generator) extractFields(structType *ast.StructType) []FieldInfo {
	fields := make([]FieldInfo, 0)

	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 {
			continue // Skip embedded fields
		}

		for _, name := range field.Names {
			if !name.IsExported() {
				continue
			}

			fieldInfo := FieldInfo{
				Name: name.Name,
				Type: g.typeToString(field.Type),
			}

			if field.Tag != nil {
				tag := strings.Trim(field.Tag.Value, "`")
				if strings.Contains(tag, "json:") {
					jsonTagRegex := regexp.MustCompile(`json:"([^"]+)"`)
					matches := jsonTagRegex.FindStringSubmatch(tag)
					if len(matches) > 1 {
						fieldInfo.JSONTag = strings.Split(matches[1], ",")[0]
						fieldInfo.Optional = strings.Contains(matches[1], "omitempty")
					}
				}
			}

			fields = append(fields, fieldInfo)
		}
	}

	return fields
}

// typeToString converts an AST type to a string representation.
func (g *Generator) typeToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + g.typeToString(t.X)
	case *ast.ArrayType:
		return "[]" + g.typeToString(t.Elt)
	case *ast.MapType:
		return "map[" + g.typeToString(t.Key) + "]" + g.typeToString(t.Value)
	case *ast.SelectorExpr:
		return g.typeToString(t.X) + "." + t.Sel.Name
	default:
		return "interface{}"
	}
}

// Generate generates the mapping code and writes it, plus a companion test
// file, to the output directory.
func (g *Generator) Generate() error {
	if len(g.events) == 0 {
		return fmt.Errorf("no events discovered in %s", g.config.InputDir)
	}

	sort.Slice(g.events, func(i, j int) bool {
		if g.events[i].Name != g.events[j].Name {
			return g.events[i].Name < g.events[j].Name
		}
		return g.events[i].Version < g.events[j].Version
	})

	if err := os.MkdirAll(g.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	code := g.generateCode()
	outputPath := filepath.Join(g.config.OutputDir, g.config.OutputFile)
	if err := os.WriteFile(outputPath, []byte(code), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	testCode := g.generateTestCode()
	testOutputPath := filepath.Join(g.config.OutputDir, g.getTestFileName())
	if err := os.WriteFile(testOutputPath, []byte(testCode), 0o600); err != nil {
		return fmt.Errorf("failed to write test file: %w", err)
	}

	return nil
}

// generateCode generates the complete mapping code.
func (g *Generator) generateCode() string {
	var sb strings.Builder

	sb.WriteString(g.generateHeader())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateImports())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateOptionsType())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateEventTypeOf())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateToESEvents())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateFromESEvents())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateTypeHelpers())

	return sb.String()
}

// generateHeader generates the file header.
func (g *Generator) generateHeader() string {
	return fmt.Sprintf(`// Code generated by eventmap-gen. DO NOT EDIT.

package %s`, g.config.PackageName)
}

// generateImports generates the import statements.
func (g *Generator) generateImports() string {
	var sb strings.Builder

	sb.WriteString("import (\n")
	sb.WriteString("\t\"encoding/json\"\n")
	sb.WriteString("\t\"fmt\"\n")
	sb.WriteString("\n")
	sb.WriteString("\t\"github.com/witzbould/event-store/es\"\n")

	importPaths := make(map[string]string)
	for _, event := range g.events {
		if event.ImportPath != "" {
			importPaths[event.ImportPath] = event.PackageName
		}
	}

	if len(importPaths) > 0 {
		sb.WriteString("\n")
		paths := make([]string, 0, len(importPaths))
		for path := range importPaths {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			alias := importPaths[path]
			sb.WriteString(fmt.Sprintf("\t%s %q\n", alias, path))
		}
	}

	sb.WriteString(")")

	return sb.String()
}

// generateOptionsType generates the Option type used to attach extra
// metadata to an event as it is built.
func (g *Generator) generateOptionsType() string {
	return `// metadataEventVersion is the reserved metadata label this package uses
// to record a domain event's schema version, distinct from
// es.MetadataAggregateVersion (the aggregate's optimistic-concurrency
// counter).
const metadataEventVersion = "_event_version"

// Option is a functional option for attaching extra metadata to an event
// produced by ToESEvents or one of the per-type To<Type>V<N> helpers.
type Option func(*eventOptions)

type eventOptions struct {
	metadata map[string]interface{}
}

// WithMetadata attaches a single metadata key/value pair to the event.
func WithMetadata(key string, value interface{}) Option {
	return func(o *eventOptions) {
		if o.metadata == nil {
			o.metadata = map[string]interface{}{}
		}
		o.metadata[key] = value
	}
}

func applyOptions(e es.Event, opts []Option) es.Event {
	options := &eventOptions{}
	for _, opt := range opts {
		opt(options)
	}
	for k, v := range options.metadata {
		e = e.WithMetadata(k, v)
	}
	return e
}`
}

// generateEventTypeOf generates the EventTypeOf function.
func (g *Generator) generateEventTypeOf() string {
	var sb strings.Builder

	sb.WriteString(`// EventTypeOf returns the event type string for a given domain event.
// The event type is the struct name without version information.
func EventTypeOf(e any) (string, error) {
	switch e.(type) {
`)

	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf("\tcase %s.%s, *%s.%s:\n",
			event.PackageName, event.Name, event.PackageName, event.Name))
		sb.WriteString(fmt.Sprintf("\t\treturn %q, nil\n", event.Name))
	}

	sb.WriteString(`	default:
		return "", fmt.Errorf("unknown event type: %T", e)
	}
}`)

	return sb.String()
}

// generateToESEvents generates the ToESEvents function and its supporting
// version lookup.
func (g *Generator) generateToESEvents() string {
	var sb strings.Builder

	sb.WriteString(`// ToESEvents converts domain events to es.Event instances. Each domain
// event is marshaled to JSON and wrapped in an es.Event carrying its
// schema version as metadata. Aggregate identity and version are stamped
// later, by AggregateRepository.Save.
func ToESEvents[T any](events []T, opts ...Option) ([]es.Event, error) {
	result := make([]es.Event, 0, len(events))

	for _, e := range events {
		eventType, err := EventTypeOf(e)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event %s: %w", eventType, err)
		}

		event := es.NewEvent(eventType, payload).WithMetadata(metadataEventVersion, eventVersionOf(e))
		event = applyOptions(event, opts)

		result = append(result, event)
	}

	return result, nil
}

// eventVersionOf returns the schema version for a given domain event.
func eventVersionOf(e any) int {
	switch e.(type) {
`)

	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf("\tcase %s.%s, *%s.%s:\n",
			event.PackageName, event.Name, event.PackageName, event.Name))
		sb.WriteString(fmt.Sprintf("\t\treturn %d\n", event.Version))
	}

	sb.WriteString(`	default:
		return 1
	}
}`)

	return sb.String()
}

// generateFromESEvents generates the FromESEvents function with generics.
func (g *Generator) generateFromESEvents() string {
	var sb strings.Builder

	sb.WriteString(`// FromESEvents converts persisted events back to domain events. T must be
// 'any' or a common interface implemented by all domain events.
func FromESEvents[T any](events []es.Event) ([]T, error) {
	result := make([]T, 0, len(events))

	for i, pe := range events {
		domainEvent, err := FromESEvent(pe)
		if err != nil {
			return nil, fmt.Errorf("failed to convert event at index %d: %w", i, err)
		}

		typedEvent, ok := domainEvent.(T)
		if !ok {
			return nil, fmt.Errorf("event at index %d is not of expected type: got %T", i, domainEvent)
		}

		result = append(result, typedEvent)
	}

	return result, nil
}

// eventVersionFromMetadata reads the schema version metadata ToESEvents
// attached, defaulting to 1 for events that predate versioning.
func eventVersionFromMetadata(pe es.Event) int {
	v, ok := pe.Metadata[metadataEventVersion]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 1
	}
}

// FromESEvent converts a single persisted event to a domain event. This is
// useful for projection handlers that need to convert individual events.
func FromESEvent(pe es.Event) (any, error) {
	version := eventVersionFromMetadata(pe)

	switch pe.Name {
`)

	eventsByType := make(map[string][]EventInfo)
	var typeNames []string
	for _, event := range g.events {
		if _, ok := eventsByType[event.Name]; !ok {
			typeNames = append(typeNames, event.Name)
		}
		eventsByType[event.Name] = append(eventsByType[event.Name], event)
	}
	sort.Strings(typeNames)

	for _, eventType := range typeNames {
		versions := eventsByType[eventType]
		sb.WriteString(fmt.Sprintf("\tcase %q:\n", eventType))
		sb.WriteString("\t\tswitch version {\n")

		for _, event := range versions {
			sb.WriteString(fmt.Sprintf("\t\tcase %d:\n", event.Version))
			sb.WriteString(fmt.Sprintf("\t\t\tvar e %s.%s\n", event.PackageName, event.Name))
			sb.WriteString("\t\t\tif err := json.Unmarshal(pe.Payload, &e); err != nil {\n")
			sb.WriteString(fmt.Sprintf("\t\t\t\treturn nil, fmt.Errorf(\"failed to unmarshal %s v%d: %%w\", err)\n",
				event.Name, event.Version))
			sb.WriteString("\t\t\t}\n")
			sb.WriteString("\t\t\treturn e, nil\n")
		}

		sb.WriteString("\t\tdefault:\n")
		sb.WriteString(fmt.Sprintf("\t\t\treturn nil, fmt.Errorf(\"unknown version %%d for event type %s\", version)\n",
			eventType))
		sb.WriteString("\t\t}\n")
	}

	sb.WriteString(`	default:
		return nil, fmt.Errorf("unknown event type: %s", pe.Name)
	}
}`)

	return sb.String()
}

// generateTypeHelpers generates type-safe per-event helper functions.
func (g *Generator) generateTypeHelpers() string {
	var sb strings.Builder

	for _, event := range g.events {
		sb.WriteString(fmt.Sprintf(`// To%sV%d converts a domain event to an es.Event.
func To%sV%d(e %s.%s, opts ...Option) (es.Event, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return es.Event{}, fmt.Errorf("failed to marshal %s: %%w", err)
	}

	event := es.NewEvent(%q, payload).WithMetadata(metadataEventVersion, %d)
	return applyOptions(event, opts), nil
}

`,
			event.Name, event.Version,
			event.Name, event.Version, event.PackageName, event.Name,
			event.Name,
			event.Name, event.Version))

		sb.WriteString(fmt.Sprintf(`// From%sV%d converts a persisted event back to a %s. Returns an error if
// the event name or schema version doesn't match.
func From%sV%d(pe es.Event) (%s.%s, error) {
	if pe.Name != %q {
		return %s.%s{}, fmt.Errorf("expected event type %s, got %%s", pe.Name)
	}
	if eventVersionFromMetadata(pe) != %d {
		return %s.%s{}, fmt.Errorf("expected event version %d, got %%d", eventVersionFromMetadata(pe))
	}

	var e %s.%s
	if err := json.Unmarshal(pe.Payload, &e); err != nil {
		return %s.%s{}, fmt.Errorf("failed to unmarshal %s v%d: %%w", err)
	}

	return e, nil
}

`,
			event.Name, event.Version, event.Name,
			event.Name, event.Version, event.PackageName, event.Name,
			event.Name,
			event.PackageName, event.Name, event.Name,
			event.Version,
			event.PackageName, event.Name, event.Version,
			event.PackageName, event.Name,
			event.PackageName, event.Name, event.Name, event.Version))
	}

	return sb.String()
}

// getTestFileName returns the test file name based on the output file name.
func (g *Generator) getTestFileName() string {
	if strings.HasSuffix(g.config.OutputFile, ".gen.go") {
		return strings.TrimSuffix(g.config.OutputFile, ".gen.go") + ".gen_test.go"
	}
	if strings.HasSuffix(g.config.OutputFile, ".go") {
		return strings.TrimSuffix(g.config.OutputFile, ".go") + "_test.go"
	}
	return g.config.OutputFile + "_test.go"
}

// generateTestCode generates unit tests for the generated code.
func (g *Generator) generateTestCode() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`// Code generated by eventmap-gen. DO NOT EDIT.

package %s

import (
	"testing"

	"github.com/witzbould/event-store/es"
`, g.config.PackageName))

	importPaths := make(map[string]string)
	for _, event := range g.events {
		if event.ImportPath != "" {
			importPaths[event.ImportPath] = event.PackageName
		}
	}

	if len(importPaths) > 0 {
		sb.WriteString("\n")
		paths := make([]string, 0, len(importPaths))
		for path := range importPaths {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			alias := importPaths[path]
			sb.WriteString(fmt.Sprintf("\t%s %q\n", alias, path))
		}
	}

	sb.WriteString(")\n\n")

	sb.WriteString(g.generateTestEventTypeOf())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateTestToESEvents())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateTestFromESEvents())
	sb.WriteString("\n\n")
	sb.WriteString(g.generateTestTypeHelpers())

	return sb.String()
}

func (g *Generator) generateTestEventTypeOf() string {
	var sb strings.Builder

	sb.WriteString(`// TestEventTypeOf tests the EventTypeOf function.
func TestEventTypeOf(t *testing.T) {
	tests := []struct {
		name     string
		event    any
		wantType string
	}{
`)

	for _, event := range g.events {
		sb.WriteString("\t\t{\n")
		sb.WriteString(fmt.Sprintf("\t\t\tname:     %q,\n", event.Name+"V"+fmt.Sprint(event.Version)))
		sb.WriteString(fmt.Sprintf("\t\t\tevent:    %s.%s{},\n", event.PackageName, event.Name))
		sb.WriteString(fmt.Sprintf("\t\t\twantType: %q,\n", event.Name))
		sb.WriteString("\t\t},\n")
	}

	sb.WriteString(`	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EventTypeOf(tt.event)
			if err != nil {
				t.Fatalf("EventTypeOf() error = %v", err)
			}
			if got != tt.wantType {
				t.Errorf("EventTypeOf() = %v, want %v", got, tt.wantType)
			}
		})
	}
}

// TestEventTypeOfUnknown tests EventTypeOf with an unregistered type.
func TestEventTypeOfUnknown(t *testing.T) {
	_, err := EventTypeOf(struct{}{})
	if err == nil {
		t.Fatal("EventTypeOf() expected error for unknown type, got nil")
	}
}`)

	return sb.String()
}

func (g *Generator) generateTestToESEvents() string {
	if len(g.events) == 0 {
		return ""
	}
	first := g.events[0]

	return fmt.Sprintf(`// TestToESEvents tests the ToESEvents generic conversion function.
func TestToESEvents(t *testing.T) {
	events := []%s.%s{{}}

	esEvents, err := ToESEvents(events)
	if err != nil {
		t.Fatalf("ToESEvents() error = %%v", err)
	}
	if len(esEvents) != len(events) {
		t.Fatalf("ToESEvents() len = %%d, want %%d", len(esEvents), len(events))
	}
	if esEvents[0].Name != %q {
		t.Errorf("ToESEvents()[0].Name = %%v, want %%v", esEvents[0].Name, %q)
	}
}

// TestToESEventsWithMetadata tests that WithMetadata options are applied.
func TestToESEventsWithMetadata(t *testing.T) {
	events := []%s.%s{{}}

	esEvents, err := ToESEvents(events, WithMetadata("source", "test"))
	if err != nil {
		t.Fatalf("ToESEvents() error = %%v", err)
	}
	if esEvents[0].Metadata["source"] != "test" {
		t.Errorf("ToESEvents()[0].Metadata[source] = %%v, want %%v", esEvents[0].Metadata["source"], "test")
	}
}`, first.PackageName, first.Name, first.Name, first.Name, first.PackageName, first.Name)
}

func (g *Generator) generateTestFromESEvents() string {
	if len(g.events) == 0 {
		return ""
	}
	first := g.events[0]

	return fmt.Sprintf(`// TestFromESEventRoundTrip tests that ToESEvents and FromESEvent round-trip.
func TestFromESEventRoundTrip(t *testing.T) {
	original := %s.%s{}

	esEvents, err := ToESEvents([]%s.%s{original})
	if err != nil {
		t.Fatalf("ToESEvents() error = %%v", err)
	}

	domainEvent, err := FromESEvent(esEvents[0])
	if err != nil {
		t.Fatalf("FromESEvent() error = %%v", err)
	}
	if _, ok := domainEvent.(%s.%s); !ok {
		t.Fatalf("FromESEvent() returned %%T, want %s.%s", domainEvent)
	}
}

// TestFromESEventUnknownType tests FromESEvent with an unregistered event name.
func TestFromESEventUnknownType(t *testing.T) {
	_, err := FromESEvent(es.NewEvent("NotARealEvent", []byte("{}")))
	if err == nil {
		t.Fatal("FromESEvent() expected error for unknown event type, got nil")
	}
}`, first.PackageName, first.Name, first.PackageName, first.Name, first.PackageName, first.Name, first.PackageName, first.Name)
}

func (g *Generator) generateTestTypeHelpers() string {
	var sb strings.Builder

	for i, event := range g.events {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf(`// Test%sV%dRoundTrip tests the To%sV%d/From%sV%d helper pair.
func Test%sV%dRoundTrip(t *testing.T) {
	esEvent, err := To%sV%d(%s.%s{})
	if err != nil {
		t.Fatalf("To%sV%d() error = %%v", err)
	}

	_, err = From%sV%d(esEvent)
	if err != nil {
		t.Fatalf("From%sV%d() error = %%v", err)
	}
}

// TestFrom%sV%dWrongType tests that From%sV%d rejects a mismatched event name.
func TestFrom%sV%dWrongType(t *testing.T) {
	_, err := From%sV%d(es.NewEvent("NotARealEvent", []byte("{}")))
	if err == nil {
		t.Fatal("expected error for mismatched event type, got nil")
	}
}`,
			event.Name, event.Version, event.Name, event.Version, event.Name, event.Version,
			event.Name, event.Version,
			event.Name, event.Version, event.PackageName, event.Name,
			event.Name, event.Version,
			event.Name, event.Version,
			event.Name, event.Version,
			event.Name, event.Version, event.Name, event.Version,
			event.Name, event.Version,
			event.Name, event.Version))
	}

	return sb.String()
}
