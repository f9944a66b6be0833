package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ruleSetFile is the YAML schema for one rule set, one file per
// storage type to search type mapping.
type ruleSetFile struct {
	GlobalObjectType     string     `yaml:"global-object-type"`
	Version              int        `yaml:"version"`
	StorageType          string     `yaml:"storage-type"`
	StorageObjectType    string     `yaml:"storage-object-type"`
	StorageObjectTypeVer int        `yaml:"storage-object-type-version"`
	SubObjectType        string     `yaml:"sub-object-type"`
	SubObjectPath        string     `yaml:"sub-object-path"`
	SubObjectIDPath      string     `yaml:"sub-object-id-path"`
	IndexingRules        []ruleFile `yaml:"indexing-rules"`
}

type ruleFile struct {
	KeyName          string `yaml:"key-name"`
	Path             string `yaml:"path"`
	FromParent       bool   `yaml:"from-parent"`
	FullText         bool   `yaml:"full-text"`
	KeywordType      string `yaml:"keyword-type"`
	DefaultValue     any    `yaml:"default-value"`
	Transform        string `yaml:"transform"`
	TargetObjectType string `yaml:"target-object-type"`
	SourceKey        string `yaml:"source-key"`
	SubobjectIDKey   string `yaml:"subobject-id-key"`
	NotIndexed       bool   `yaml:"not-indexed"`
	FilterMatchPath  string `yaml:"filter-match-path"`
	FilterPattern    string `yaml:"filter-pattern"`
	FilterValuePath  string `yaml:"filter-value-path"`
}

// Load reads one rule set from a YAML file.
func Load(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule set %s: %w", path, err)
	}
	return Decode(raw, path)
}

// Decode parses rule set YAML. The name is used in error messages only.
func Decode(raw []byte, name string) (*RuleSet, error) {
	var f ruleSetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing rule set %s: %w", name, err)
	}
	if f.GlobalObjectType == "" {
		return nil, fmt.Errorf("rule set %s: global-object-type is required", name)
	}
	if f.Version < 1 {
		return nil, fmt.Errorf("rule set %s: version must be at least 1", name)
	}
	if f.StorageType == "" || f.StorageObjectType == "" {
		return nil, fmt.Errorf("rule set %s: storage-type and storage-object-type are required", name)
	}
	rs := &RuleSet{
		SearchType: SearchObjectType{Type: f.GlobalObjectType, Version: f.Version},
		StorageType: StorageObjectType{
			StorageCode: f.StorageType,
			Type:        f.StorageObjectType,
			Version:     f.StorageObjectTypeVer,
		},
		SubObjectType: f.SubObjectType,
	}
	if f.SubObjectType != "" {
		if f.SubObjectPath == "" || f.SubObjectIDPath == "" {
			return nil, fmt.Errorf(
				"rule set %s: sub-object-path and sub-object-id-path are required with sub-object-type", name)
		}
		p, err := ParsePath(f.SubObjectPath)
		if err != nil {
			return nil, fmt.Errorf("rule set %s: %w", name, err)
		}
		rs.SubObjectPath = p
		idp, err := ParsePath(f.SubObjectIDPath)
		if err != nil {
			return nil, fmt.Errorf("rule set %s: %w", name, err)
		}
		rs.SubObjectIDPath = idp
	}
	for i, rf := range f.IndexingRules {
		rule, err := decodeRule(rf)
		if err != nil {
			return nil, fmt.Errorf("rule set %s, rule %d: %w", name, i, err)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule set %s: %w", name, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rule set %s: no indexing rules", name)
	}
	return rs, nil
}

func decodeRule(rf ruleFile) (*Rule, error) {
	r := &Rule{
		KeyName:        rf.KeyName,
		FromParent:     rf.FromParent,
		FullText:       rf.FullText,
		KeywordType:    rf.KeywordType,
		DefaultValue:   rf.DefaultValue,
		SourceKey:      rf.SourceKey,
		SubobjectIDKey: rf.SubobjectIDKey,
		NotIndexed:     rf.NotIndexed,
	}
	if rf.Path != "" {
		p, err := ParsePath(rf.Path)
		if err != nil {
			return nil, err
		}
		r.Path = p
	}
	if rf.Transform != "" {
		t, err := decodeTransform(rf)
		if err != nil {
			return nil, err
		}
		r.Transform = t
	}
	return r, nil
}

// decodeTransform parses the "name" or "name.property" transform notation.
func decodeTransform(rf ruleFile) (*Transform, error) {
	name, prop := rf.Transform, ""
	if i := strings.Index(name, "."); i >= 0 {
		name, prop = name[:i], name[i+1:]
	}
	t := &Transform{Property: prop}
	switch name {
	case "string":
		t.Kind = TransformString
	case "integer":
		t.Kind = TransformInteger
	case "location":
		t.Kind = TransformLocation
	case "values":
		t.Kind = TransformValues
	case "filter":
		t.Kind = TransformFilter
		if rf.FilterMatchPath == "" || rf.FilterPattern == "" || rf.FilterValuePath == "" {
			return nil, fmt.Errorf(
				"filter transform requires filter-match-path, filter-pattern and filter-value-path")
		}
		if _, err := regexp.Compile(rf.FilterPattern); err != nil {
			return nil, fmt.Errorf("invalid filter-pattern: %w", err)
		}
		t.MatchPath = rf.FilterMatchPath
		t.Pattern = rf.FilterPattern
		t.ValuePath = rf.FilterValuePath
	case "guid":
		t.Kind = TransformGUID
		if rf.TargetObjectType == "" {
			return nil, fmt.Errorf("guid transform requires target-object-type")
		}
		t.TargetObjectType = rf.TargetObjectType
	case "lookup":
		t.Kind = TransformLookup
		if prop == "" {
			return nil, fmt.Errorf("lookup transform requires a property, e.g. lookup.key.name")
		}
	default:
		return nil, fmt.Errorf("unsupported transform %q", rf.Transform)
	}
	return t, nil
}
