// Package configs provides embedded configuration templates. The templates
// are compiled into the binary so `objsearch config init` works in every
// distribution, not just source checkouts.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `objsearch config init`.
//
//go:embed config.example.yaml
var ConfigTemplate string

// RuleSetTemplate is the annotated example rule set written into the rules
// directory by `objsearch config init`.
//
//go:embed rules.example.yaml
var RuleSetTemplate string
