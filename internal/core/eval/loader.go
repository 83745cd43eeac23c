package eval

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// caseFile はYAMLの評価ケースファイル
type caseFile struct {
	Name  string `yaml:"name"`
	Cases []struct {
		ID                string   `yaml:"id"`
		Question          string   `yaml:"question"`
		ExpectedAnswer    string   `yaml:"expected_answer"`
		ExpectedSourceIDs []string `yaml:"expected_source_ids"`
	} `yaml:"cases"`
}

// LoadCases はYAMLファイルから評価ケースを読み込む
func LoadCases(path string) ([]Case, error) {
	if path == "" {
		return nil, fmt.Errorf("case file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read case file: %w", err)
	}
	return ParseCases(data)
}

// ParseCases はYAMLデータから評価ケースを読み込む
func ParseCases(data []byte) ([]Case, error) {
	var file caseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse case file: %w", err)
	}
	if len(file.Cases) == 0 {
		return nil, ErrNoCases
	}

	cases := make([]Case, 0, len(file.Cases))
	seen := make(map[string]struct{}, len(file.Cases))
	for i, raw := range file.Cases {
		if raw.ID == "" {
			return nil, fmt.Errorf("case %d missing id", i)
		}
		if _, dup := seen[raw.ID]; dup {
			return nil, fmt.Errorf("duplicate case id %q", raw.ID)
		}
		seen[raw.ID] = struct{}{}
		if raw.Question == "" {
			return nil, fmt.Errorf("case %q missing question", raw.ID)
		}

		ids := make([]uuid.UUID, 0, len(raw.ExpectedSourceIDs))
		for _, s := range raw.ExpectedSourceIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("case %q has invalid expected source id %q: %w", raw.ID, s, err)
			}
			ids = append(ids, id)
		}

		cases = append(cases, Case{
			ID:                raw.ID,
			Question:          raw.Question,
			ExpectedAnswer:    raw.ExpectedAnswer,
			ExpectedSourceIDs: ids,
		})
	}

	return cases, nil
}
