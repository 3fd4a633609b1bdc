package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// LeaveMode describes a leave type that asks for full days or custom hours
// before dates are captured.
type LeaveMode struct {
	LeaveType        string `yaml:"leave_type" toml:"leave_type"`
	SessionKey       string `yaml:"session_key" toml:"session_key"`
	ButtonPrefix     string `yaml:"button_prefix" toml:"button_prefix"`
	PromptLabel      string `yaml:"prompt_label" toml:"prompt_label"`
	RequiresDocument bool   `yaml:"requires_document" toml:"requires_document"`
}

// Catalog holds the tunable vocabulary and policy limits of the flows.
type Catalog struct {
	Company             string      `yaml:"company" toml:"company"`
	PrimaryLeaveTypes   []string    `yaml:"primary_leave_types" toml:"primary_leave_types"`
	LeaveModes          []LeaveMode `yaml:"leave_modes" toml:"leave_modes"`
	CancelWords         []string    `yaml:"cancel_words" toml:"cancel_words"`
	CancelFuzzyWords    []string    `yaml:"cancel_fuzzy_words" toml:"cancel_fuzzy_words"`
	SimilarityThreshold float64     `yaml:"similarity_threshold" toml:"similarity_threshold"`
	MaxCustomHours      float64     `yaml:"max_custom_hours" toml:"max_custom_hours"`
	NewUserDepartments  []string    `yaml:"new_user_departments" toml:"new_user_departments"`
	NewUserCompanies    []string    `yaml:"new_user_companies" toml:"new_user_companies"`
	DocumentAccept      string      `yaml:"document_accept" toml:"document_accept"`
}

// DefaultCatalog returns the built-in flow catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Company:           "Prezlab",
		PrimaryLeaveTypes: []string{"Annual Leave", "Sick Leave", "Unpaid Leave", "Custom Hours"},
		LeaveModes: []LeaveMode{
			{
				LeaveType:        "Sick Leave",
				SessionKey:       "sick_leave_mode",
				ButtonPrefix:     "SICK",
				PromptLabel:      "Sick Leave",
				RequiresDocument: true,
			},
			{
				LeaveType:    "Unpaid Leave",
				SessionKey:   "unpaid_leave_mode",
				ButtonPrefix: "UNPAID",
				PromptLabel:  "Unpaid Leave",
			},
		},
		CancelWords:         []string{"cancel", "stop", "exit", "quit", "abort", "end", "undo", "nevermind", "never mind", "no thanks"},
		CancelFuzzyWords:    []string{"cancel", "stop", "exit", "quit", "abort", "end", "undo", "nevermind"},
		SimilarityThreshold: 0.8,
		MaxCustomHours:      4,
		NewUserDepartments:  []string{"People & Culture"},
		NewUserCompanies: []string{
			"Prezlab FZ LLC",
			"Prezlab Advanced Design Company",
			"Prezlab FZ LLC - Regional Office",
			"Prezlab Digital Design Firm L.L.C. - O.P.C",
			"ALOROD AL TAQADAMIAH LEL TASMEM CO",
		},
		DocumentAccept: ".pdf,.jpg,.jpeg,.png,.heic,.doc,.docx",
	}
}

// LoadCatalog reads a catalog override from a YAML or TOML file. Fields the
// file leaves empty keep their built-in value. An empty path returns the
// defaults.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var override Catalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &override)
	case ".toml":
		err = toml.Unmarshal(data, &override)
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	cat.apply(&override)
	return cat, nil
}

func (c *Catalog) apply(o *Catalog) {
	if o.Company != "" {
		c.Company = o.Company
	}
	if len(o.PrimaryLeaveTypes) > 0 {
		c.PrimaryLeaveTypes = o.PrimaryLeaveTypes
	}
	if len(o.LeaveModes) > 0 {
		c.LeaveModes = o.LeaveModes
	}
	if len(o.CancelWords) > 0 {
		c.CancelWords = o.CancelWords
	}
	if len(o.CancelFuzzyWords) > 0 {
		c.CancelFuzzyWords = o.CancelFuzzyWords
	}
	if o.SimilarityThreshold > 0 {
		c.SimilarityThreshold = o.SimilarityThreshold
	}
	if o.MaxCustomHours > 0 {
		c.MaxCustomHours = o.MaxCustomHours
	}
	if len(o.NewUserDepartments) > 0 {
		c.NewUserDepartments = o.NewUserDepartments
	}
	if len(o.NewUserCompanies) > 0 {
		c.NewUserCompanies = o.NewUserCompanies
	}
	if o.DocumentAccept != "" {
		c.DocumentAccept = o.DocumentAccept
	}
}

// LeaveMode returns the mode configuration for a leave type name.
func (c *Catalog) LeaveMode(leaveType string) (LeaveMode, bool) {
	for _, m := range c.LeaveModes {
		if strings.EqualFold(m.LeaveType, leaveType) {
			return m, true
		}
	}
	return LeaveMode{}, false
}
