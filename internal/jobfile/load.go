// Package jobfile reads batch jobs from JSON documents. Job files and HTTP
// submissions share one schema; fields left out keep entity.DefaultJobConfig values.
package jobfile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

// Parse validates data against the job schema and decodes it over the defaults.
func Parse(data []byte) (entity.JobConfig, error) {
	if err := ValidateJSON(data); err != nil {
		return entity.JobConfig{}, common.NewAppError(common.CodeValidation, "invalid job", err)
	}
	cfg := entity.DefaultJobConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return entity.JobConfig{}, common.NewAppError(common.CodeValidation, "decode job", err)
	}
	return cfg, nil
}

// Decode reads r fully and parses it.
func Decode(r io.Reader) (entity.JobConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return entity.JobConfig{}, fmt.Errorf("read job: %w", err)
	}
	return Parse(data)
}

// Load parses the job file at path. Relative paths inside the file resolve
// against the file's directory.
func Load(path string) (entity.JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entity.JobConfig{}, common.NewAppError(common.CodeConfig, "read job file "+path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return entity.JobConfig{}, err
	}
	base := filepath.Dir(path)
	for i, r := range cfg.InputRoots {
		cfg.InputRoots[i] = resolve(base, r)
	}
	for i, p := range cfg.Include {
		cfg.Include[i] = resolve(base, p)
	}
	cfg.OutputRoot = resolve(base, cfg.OutputRoot)
	cfg.ImagePath = resolve(base, cfg.ImagePath)
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
