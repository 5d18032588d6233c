package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/arcgis-client/pkg/pagination"
	"github.com/Sternrassler/arcgis-client/pkg/query"
	"github.com/Sternrassler/arcgis-client/pkg/service"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// serviceInfo is the printable description of an opened handle.
type serviceInfo struct {
	URL            string             `json:"url"`
	Kind           service.Kind       `json:"kind"`
	Name           string             `json:"name,omitempty"`
	ObjectIDField  string             `json:"objectIdField,omitempty"`
	GeometryType   string             `json:"geometryType,omitempty"`
	MaxRecordCount int                `json:"maxRecordCount,omitempty"`
	Pagination     *bool              `json:"supportsPagination,omitempty"`
	BandCount      int                `json:"bandCount,omitempty"`
	PixelType      string             `json:"pixelType,omitempty"`
	Fields         []service.Field    `json:"fields,omitempty"`
	Layers         []service.LayerRef `json:"layers,omitempty"`
	Tables         []service.LayerRef `json:"tables,omitempty"`
}

// queryOutput is the JSON shape of a finished query.
type queryOutput struct {
	Total    int             `json:"total"`
	PageSize int             `json:"pageSize"`
	Pages    int             `json:"pages"`
	Features []query.Feature `json:"features"`
}

func describe(h service.Handle) serviceInfo {
	info := serviceInfo{
		URL:  h.URL(),
		Kind: h.Kind(),
		Name: h.Name(),
	}

	switch v := h.(type) {
	case *service.FeatureServer:
		info.Layers = v.Layers()
		info.Tables = v.Tables()
	case *service.MapServer:
		info.Layers = v.Layers()
	case *service.ImageServer:
		info.BandCount = v.BandCount()
		info.PixelType = v.PixelType()
	}

	if q, ok := h.(service.Queryable); ok {
		paging := q.SupportsPagination()
		info.ObjectIDField = q.ObjectIDField()
		info.GeometryType = q.GeometryType()
		info.MaxRecordCount = q.MaxRecordCount()
		info.Pagination = &paging
		info.Fields = q.Fields()
	}
	return info
}

func newQueryOutput(res *pagination.Result) queryOutput {
	features := res.Features
	if features == nil {
		features = []query.Feature{}
	}
	return queryOutput{
		Total:    res.Total,
		PageSize: res.PageSize,
		Pages:    res.Pages,
		Features: features,
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeYAML encodes v through its JSON form so field names and raw
// geometries come out the same as with -o json.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	return encoder.Close()
}

// writeOutput handles the structured formats. It reports false for table.
func writeOutput(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		return true, writeJSON(w, v)
	case outputYAML:
		return true, writeYAML(w, v)
	case outputTable:
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (want %s, %s or %s)", format, outputTable, outputJSON, outputYAML)
	}
}

func renderInfo(w io.Writer, format string, info serviceInfo) error {
	if done, err := writeOutput(w, format, info); done {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	_ = table.Append("URL", info.URL)
	_ = table.Append("Kind", info.Kind.String())
	if info.Name != "" {
		_ = table.Append("Name", info.Name)
	}
	if info.Pagination != nil {
		_ = table.Append("Object ID Field", info.ObjectIDField)
		_ = table.Append("Geometry Type", info.GeometryType)
		_ = table.Append("Max Record Count", strconv.Itoa(info.MaxRecordCount))
		_ = table.Append("Pagination", strconv.FormatBool(*info.Pagination))
	}
	if info.Kind == service.KindImageServer {
		_ = table.Append("Bands", strconv.Itoa(info.BandCount))
		_ = table.Append("Pixel Type", info.PixelType)
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(info.Fields) > 0 {
		fmt.Fprintln(w)
		fields := tablewriter.NewWriter(w)
		fields.Header("Field", "Type", "Alias", "Nullable")
		for _, f := range info.Fields {
			_ = fields.Append(f.Name, f.Type, f.Alias, strconv.FormatBool(f.Nullable))
		}
		if err := fields.Render(); err != nil {
			return err
		}
	}

	refs := make([][]string, 0, len(info.Layers)+len(info.Tables))
	for _, l := range info.Layers {
		refs = append(refs, []string{"layer", strconv.Itoa(l.ID), l.Name, l.URL})
	}
	for _, t := range info.Tables {
		refs = append(refs, []string{"table", strconv.Itoa(t.ID), t.Name, t.URL})
	}
	if len(refs) > 0 {
		fmt.Fprintln(w)
		layers := tablewriter.NewWriter(w)
		layers.Header("Type", "ID", "Name", "URL")
		for _, row := range refs {
			_ = layers.Append(row)
		}
		return layers.Render()
	}
	return nil
}

func renderFeatures(w io.Writer, format string, res *pagination.Result, columns []string) error {
	if done, err := writeOutput(w, format, newQueryOutput(res)); done {
		return err
	}

	if len(columns) == 0 {
		columns = attributeColumns(res.Features)
	}

	table := tablewriter.NewWriter(w)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	table.Header(header...)
	for _, f := range res.Features {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = formatValue(f.Attributes[c])
		}
		_ = table.Append(row)
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d records in %d pages\n", res.Total, res.Pages)
	return err
}

// attributeColumns returns the sorted union of attribute names.
func attributeColumns(features []query.Feature) []string {
	seen := make(map[string]struct{})
	for _, f := range features {
		for name := range f.Attributes {
			seen[name] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for name := range seen {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
