package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Orbit/internal/domain"
)

// Dir — каталог из YAML-файлов в директории.
//
// Файл может содержать несколько документов (разделитель ---), каждый
// документ — один flow. Директория перечитывается при каждом вызове,
// поэтому изменения видны со следующего тика. Некорректный файл или
// документ пропускается с предупреждением и не мешает остальным.
type Dir struct {
	path          string
	defaultTenant string
	logger        *slog.Logger
}

// NewDir создаёт каталог поверх директории.
func NewDir(path, defaultTenant string, logger *slog.Logger) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog dir: %s is not a directory", path)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{path: path, defaultTenant: defaultTenant, logger: logger}, nil
}

// ListActiveFlows реализует Catalog.
func (d *Dir) ListActiveFlows(ctx context.Context, tenant string) ([]*domain.FlowDescriptor, error) {
	all, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.FlowDescriptor, 0, len(all))
	for _, f := range all {
		if f.Disabled || !matchesTenant(f, tenant) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Get реализует Catalog.
func (d *Dir) Get(ctx context.Context, key domain.FlowKey) (*domain.FlowDescriptor, error) {
	all, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range all {
		if f.Key() == key {
			return f, nil
		}
	}
	return nil, ErrNotFound
}

func (d *Dir) load(ctx context.Context) ([]*domain.FlowDescriptor, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}

	seen := make(map[domain.FlowKey]string)
	var flows []*domain.FlowDescriptor
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}

		file := filepath.Join(d.path, e.Name())
		parsed, err := d.parseFile(file)
		if err != nil {
			d.logger.Warn("skipping catalog file", "file", file, "error", err)
			continue
		}
		for _, f := range parsed {
			if prev, dup := seen[f.Key()]; dup {
				d.logger.Warn("duplicate flow in catalog, keeping first",
					"flow", f.Key().String(), "file", file, "first", prev)
				continue
			}
			seen[f.Key()] = file
			flows = append(flows, f)
		}
	}
	sortFlows(flows)
	return flows, nil
}

func (d *Dir) parseFile(file string) ([]*domain.FlowDescriptor, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh, d.defaultTenant, d.logger.With("file", file))
}

// Decode читает YAML-поток с flows. Невалидные документы пропускаются.
func Decode(r io.Reader, defaultTenant string, logger *slog.Logger) ([]*domain.FlowDescriptor, error) {
	dec := yaml.NewDecoder(r)

	var flows []*domain.FlowDescriptor
	for i := 0; ; i++ {
		var f domain.FlowDescriptor
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			return flows, nil
		}
		if err != nil {
			return flows, fmt.Errorf("decode document %d: %w", i, err)
		}

		Normalize(&f, defaultTenant)
		if err := Validate(&f); err != nil {
			logger.Warn("skipping invalid flow", "document", i, "error", err)
			continue
		}
		flows = append(flows, &f)
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
