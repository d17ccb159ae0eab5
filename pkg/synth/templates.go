package synth

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// pluginTemplate is one named skeleton a requirement can be filled
// into. Grounded on theRebelliousNerd-codenerd's toolTemplates map:
// named text/template skeletons keyed by a short identifier, each
// expecting a small placeholder set.
type pluginTemplate struct {
	name         string
	capabilities []string // capabilities this template is a good fit for
	dependencies []string
	body         *template.Template
}

// TemplateSet holds the catalog of plugin templates and performs the
// "template match" and "fill" pipeline stages.
type TemplateSet struct {
	templates []pluginTemplate
}

// NewTemplateSet builds the default catalog: a request/response
// transform template and a validation template, the two shapes that
// cover most synthesized capabilities (fetch-and-transform glue code,
// input validators).
func NewTemplateSet() *TemplateSet {
	return &TemplateSet{
		templates: []pluginTemplate{
			{
				name:         "transform",
				capabilities: []string{"transform", "convert", "map"},
				body:         template.Must(template.New("transform").Parse(transformTemplateSource)),
			},
			{
				name:         "validator",
				capabilities: []string{"validate", "check"},
				body:         template.Must(template.New("validator").Parse(validatorTemplateSource)),
			},
		},
	}
}

// Match scores templates by overlap of required capability/dependency
// tokens against the template's declared fit and picks the max
// (spec.md §4.7 step 1). Ties favor the first-registered template, in
// catalog declaration order.
func (ts *TemplateSet) Match(req Requirement) (pluginTemplate, bool) {
	best := -1
	var bestTmpl pluginTemplate
	for _, t := range ts.templates {
		score := overlapScore(req.Capability, t.capabilities) + len(overlap(req.PermittedDependencies, t.dependencies))
		if score > best {
			best = score
			bestTmpl = t
		}
	}
	if best <= 0 {
		return pluginTemplate{}, false
	}
	return bestTmpl, true
}

// Fill substitutes placeholders into the matched template
// (spec.md §4.7 step 2).
func (ts *TemplateSet) Fill(t pluginTemplate, req Requirement) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Capability string
		FuncName   string
	}{
		Capability: req.Capability,
		FuncName:   "Run",
	}
	if err := t.body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("filling template %s: %w", t.name, err)
	}
	return buf.String(), nil
}

func overlapScore(capability string, candidates []string) int {
	lower := strings.ToLower(capability)
	for _, c := range candidates {
		if strings.Contains(lower, c) {
			return 10
		}
	}
	return 0
}

func overlap(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, x := range b {
		set[x] = true
	}
	var out []string
	for _, x := range a {
		if set[x] {
			out = append(out, x)
		}
	}
	return out
}

// transformTemplateSource is the skeleton for capabilities that shape
// their name like "transform"/"convert"/"map". The synthesizer's
// refine loop fills in the body via the refiner role; the template
// only establishes the entrypoint contract the in-process sandbox
// backend requires (func Run(string) (string, error)).
const transformTemplateSource = `package main

import (
	"encoding/json"
)

// {{.FuncName}} implements the {{.Capability}} capability.
func {{.FuncName}}(input string) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "", err
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
`

const validatorTemplateSource = `package main

import (
	"encoding/json"
	"fmt"
)

// {{.FuncName}} implements the {{.Capability}} capability.
func {{.FuncName}}(input string) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("empty payload")
	}
	out, err := json.Marshal(map[string]interface{}{"valid": true})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
`
