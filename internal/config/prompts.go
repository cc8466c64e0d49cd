package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arkova/pipechat/internal/appdir"
)

// promptsFile is the on-disk format of the saved-prompts file.
type promptsFile struct {
	Prompts []Prompt `yaml:"prompts"`
}

// LoadPrompts returns the saved prompts for the chat command: the prompts
// from the main configuration followed by any from the prompts file in the
// pipechat data directory. A missing prompts file is not an error.
func LoadPrompts(cfg *Config) ([]Prompt, error) {
	var prompts []Prompt
	if cfg != nil {
		prompts = append(prompts, cfg.Prompts...)
	}

	path, err := appdir.PromptsPath()
	if err != nil {
		return prompts, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prompts, nil
		}
		return prompts, fmt.Errorf("read prompts %s: %w", path, err)
	}

	var pf promptsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return prompts, fmt.Errorf("parse prompts %s: %w", path, err)
	}

	return append(prompts, pf.Prompts...), nil
}

// FindPrompt returns the saved prompt with the given name, or nil.
func FindPrompt(prompts []Prompt, name string) *Prompt {
	for i := range prompts {
		if prompts[i].Name == name {
			return &prompts[i]
		}
	}
	return nil
}
