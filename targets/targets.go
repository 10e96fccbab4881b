// Package targets reads the ordered list of entities to scrape.
package targets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/seibro/models"
	"gopkg.in/yaml.v3"
)

// Load reads targets from a .csv, .yaml or .yml file.
func Load(path string) ([]models.EntityDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return ParseCSV(f)
	}
}

// ParseCSV reads keyword,company_name rows. A first row whose first cell is
// "keyword" is treated as a header.
func ParseCSV(r io.Reader) ([]models.EntityDescriptor, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []models.EntityDescriptor
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse targets: %w", err)
		}
		if line == 1 {
			rec[0] = strings.TrimPrefix(rec[0], "\ufeff")
			if strings.EqualFold(strings.TrimSpace(rec[0]), "keyword") {
				continue
			}
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("parse targets: line %d: want keyword,company_name, got %d fields", line, len(rec))
		}
		e := models.EntityDescriptor{Keyword: rec[0], CompanyName: rec[1]}.Clean()
		if e.Keyword == "" && e.CompanyName == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type yamlFile struct {
	Targets []models.EntityDescriptor `yaml:"targets"`
}

// ParseYAML accepts either a bare list of {keyword, company_name} or a
// document with a top-level "targets" list.
func ParseYAML(r io.Reader) ([]models.EntityDescriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}

	var list []models.EntityDescriptor
	if err := yaml.Unmarshal(data, &list); err != nil {
		var doc yamlFile
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("parse targets: %w", err2)
		}
		list = doc.Targets
	}

	out := make([]models.EntityDescriptor, 0, len(list))
	for _, e := range list {
		out = append(out, e.Clean())
	}
	return out, nil
}
