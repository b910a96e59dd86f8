package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// jobFile is the YAML layout of JOB_CONFIG. Only keys present in the file
// override the environment.
//
//	inputs:
//	  dengue: data/casos_dengue.txt
//	  rain: data/chuvas.csv
//	  skip_header_lines: 1
//	output:
//	  dir: out
//	  prefix: resultado
//	  suffix: .csv
//	  shards: 2
//	rain_strict: false
type jobFile struct {
	Inputs struct {
		Dengue          *string `yaml:"dengue"`
		Rain            *string `yaml:"rain"`
		SkipHeaderLines *int    `yaml:"skip_header_lines"`
	} `yaml:"inputs"`
	Output struct {
		Dir    *string `yaml:"dir"`
		Prefix *string `yaml:"prefix"`
		Suffix *string `yaml:"suffix"`
		Shards *int    `yaml:"shards"`
	} `yaml:"output"`
	RainStrict *bool `yaml:"rain_strict"`
}

func applyJobFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read JOB_CONFIG: %w", err)
	}

	var job jobFile
	if err := yaml.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("parse JOB_CONFIG %s: %w", path, err)
	}

	setIf(&cfg.DengueInput, job.Inputs.Dengue)
	setIf(&cfg.RainInput, job.Inputs.Rain)
	setIf(&cfg.SkipHeaderLines, job.Inputs.SkipHeaderLines)
	setIf(&cfg.OutputDir, job.Output.Dir)
	setIf(&cfg.OutputPrefix, job.Output.Prefix)
	setIf(&cfg.OutputSuffix, job.Output.Suffix)
	setIf(&cfg.OutputShards, job.Output.Shards)
	setIf(&cfg.RainStrict, job.RainStrict)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
