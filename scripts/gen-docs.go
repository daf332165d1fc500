//go:build ignore

// gen-docs documents the job file format. It parses the struct definitions of
// apis/v1 and writes docs/job-schema.json and docs/job-reference.md.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/tools/go/packages"
)

type Schema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields"`
}

type Field struct {
	Name        string   `json:"name"`
	YAMLKey     string   `json:"yamlKey"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Template    bool     `json:"template"`
	Description string   `json:"description"`
	Enum        []string `json:"enum"`
	Ref         *string  `json:"ref"`
	Default     *string  `json:"default"`
}

// Job file structs in document order.
var targetStructs = []string{
	"ExportJob",
	"Metadata",
	"ExportJobSpec",
	"Connection",
	"Parameters",
	"FetchSpec",
	"OutputSpec",
	"LinksSpec",
	"DownloadsSpec",
	"ArchiveSpec",
	"LatestReferenceSpec",
	"CacheSpec",
	"StorageSpec",
	"S3Spec",
	"S3Credentials",
	"GCSSpec",
}

func main() {
	root, err := findProjectRoot()
	if err != nil {
		fail("finding project root", err)
	}

	outputDir := filepath.Join(root, "docs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fail("creating output directory", err)
	}

	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedFiles | packages.NeedName,
		Dir:  root,
	}
	pkgs, err := packages.Load(cfg, "./apis/v1")
	if err != nil {
		fail("loading package", err)
	}
	if len(pkgs) == 0 {
		fail("loading package", fmt.Errorf("no packages found"))
	}
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			fail("loading package", e)
		}
	}

	typeSpecs := make(map[string]*typeInfo)
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			collectTypeSpecs(file, typeSpecs)
		}
	}

	schemas := make([]Schema, 0, len(targetStructs))
	for _, name := range targetStructs {
		info, ok := typeSpecs[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "Warning: struct %s not found\n", name)
			continue
		}
		schemas = append(schemas, extractSchema(info))
	}

	data, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		fail("marshaling schemas", err)
	}
	writeFile(filepath.Join(outputDir, "job-schema.json"), append(data, '\n'))
	writeFile(filepath.Join(outputDir, "job-reference.md"), renderReference(schemas))
}

// renderReference renders one Markdown table per struct.
func renderReference(schemas []Schema) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Job file reference\n\nGenerated by `go run scripts/gen-docs.go`. Do not edit.\n")

	for _, schema := range schemas {
		fmt.Fprintf(&buf, "\n## %s\n\n", schema.Name)
		if schema.Description != "" {
			fmt.Fprintf(&buf, "%s\n\n", strings.ReplaceAll(schema.Description, "\n", " "))
		}

		tw := tablewriter.NewWriter(&buf)
		tw.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
		tw.SetCenterSeparator("|")
		tw.SetAutoFormatHeaders(false)
		tw.SetAutoWrapText(false)
		tw.SetHeader([]string{"Key", "Type", "Required", "Default", "Description"})

		for _, f := range schema.Fields {
			typ := f.Type
			if f.Ref != nil {
				typ = fmt.Sprintf("[%s](#%s)", *f.Ref, strings.ToLower(*f.Ref))
			}
			if len(f.Enum) > 0 {
				typ += " (" + strings.Join(f.Enum, ", ") + ")"
			}
			desc := strings.ReplaceAll(f.Description, "\n", " ")
			if f.Template {
				desc = strings.TrimSpace(desc + " Supports ${VAR} templates.")
			}
			def := ""
			if f.Default != nil {
				def = "`" + *f.Default + "`"
			}
			required := ""
			if f.Required {
				required = "yes"
			}
			tw.Append([]string{"`" + f.YAMLKey + "`", typ, required, def, desc})
		}
		tw.Render()
	}

	return buf.Bytes()
}

func writeFile(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fail("writing "+path, err)
	}
	fmt.Printf("Generated %s\n", path)
}

func fail(action string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", action, err)
	os.Exit(1)
}

type typeInfo struct {
	name       string
	doc        string
	structType *ast.StructType
}

func collectTypeSpecs(file *ast.File, typeSpecs map[string]*typeInfo) {
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}

			structType, ok := typeSpec.Type.(*ast.StructType)
			if !ok {
				continue
			}

			// Get doc comment (prefer GenDecl.Doc for single type, TypeSpec.Doc otherwise)
			var doc string
			if genDecl.Doc != nil && len(genDecl.Specs) == 1 {
				doc = cleanDocComment(genDecl.Doc.Text())
			} else if typeSpec.Doc != nil {
				doc = cleanDocComment(typeSpec.Doc.Text())
			}

			typeSpecs[typeSpec.Name.Name] = &typeInfo{
				name:       typeSpec.Name.Name,
				doc:        doc,
				structType: structType,
			}
		}
	}
}

func extractSchema(info *typeInfo) Schema {
	schema := Schema{
		Name:        info.name,
		Description: info.doc,
		Fields:      []Field{},
	}

	for _, field := range info.structType.Fields.List {
		if len(field.Names) == 0 {
			continue // embedded field
		}

		fieldName := field.Names[0].Name
		if !ast.IsExported(fieldName) {
			continue
		}

		f := Field{
			Name: fieldName,
		}

		if field.Tag != nil {
			tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
			f.YAMLKey = parseYAMLKey(tag)
			f.Required, f.Enum = parseValidateTag(tag)
			f.Template = parseTemplateTag(tag)
		}

		f.Type, f.Ref = parseFieldType(field.Type)

		f.Description, f.Default = parseFieldDoc(field)

		schema.Fields = append(schema.Fields, f)
	}

	return schema
}

func parseYAMLKey(tag reflect.StructTag) string {
	key, _, _ := strings.Cut(tag.Get("yaml"), ",")
	return key
}

func parseValidateTag(tag reflect.StructTag) (required bool, enum []string) {
	validateTag := tag.Get("validate")
	if validateTag == "" {
		return false, nil
	}

	parts := strings.Split(validateTag, ",")
	for _, part := range parts {
		if part == "required" {
			required = true
		}
		if strings.HasPrefix(part, "oneof=") {
			values := strings.TrimPrefix(part, "oneof=")
			enum = strings.Split(values, " ")
		}
	}
	return required, enum
}

func parseTemplateTag(tag reflect.StructTag) bool {
	_, ok := tag.Lookup("template")
	return ok
}

func parseFieldType(expr ast.Expr) (typeName string, ref *string) {
	switch t := expr.(type) {
	case *ast.Ident:
		if isKnownStruct(t.Name) {
			return t.Name, &t.Name
		}
		return t.Name, nil
	case *ast.StarExpr:
		return parseFieldType(t.X)
	case *ast.ArrayType:
		inner, _ := parseFieldType(t.Elt)
		return "[]" + inner, nil
	case *ast.MapType:
		key, _ := parseFieldType(t.Key)
		val, _ := parseFieldType(t.Value)
		return fmt.Sprintf("map[%s]%s", key, val), nil
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return x.Name + "." + t.Sel.Name, nil
		}
		return t.Sel.Name, nil
	case *ast.InterfaceType:
		return "any", nil
	default:
		return "unknown", nil
	}
}

func isKnownStruct(name string) bool {
	for _, target := range targetStructs {
		if target == name {
			return true
		}
	}
	return false
}

// defaultRegex reads defaults documented as Default: "x", Defaults to "x" or Defaults to $VAR.
var defaultRegex = regexp.MustCompile(`[Dd]efaults?(?: is|:| to)[:\s]+["']([^"']+)["']|[Dd]efaults?(?: is|:| to)[:\s]+(\$\w+)`)

func parseFieldDoc(field *ast.Field) (description string, defaultVal *string) {
	var docText string

	if field.Doc != nil {
		docText = field.Doc.Text()
	} else if field.Comment != nil {
		docText = field.Comment.Text()
	}

	if docText == "" {
		return "", nil
	}

	description = cleanDocComment(docText)

	// Extract default value from patterns like: Default: "gzip", Defaults to "value"
	if matches := defaultRegex.FindStringSubmatch(docText); len(matches) > 1 {
		val := matches[1]
		if val == "" {
			val = matches[2]
		}
		if val != "" {
			val = strings.TrimSpace(val)
			defaultVal = &val
		}
	}

	return description, defaultVal
}

func cleanDocComment(s string) string {
	// Remove leading/trailing whitespace but preserve newlines
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
