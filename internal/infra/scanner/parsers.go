package scanner

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
)

// Format names a report format an analyzer can emit.
type Format string

const (
	FormatPMD      Format = "pmd"
	FormatSpotBugs Format = "spotbugs"
	FormatTrivy    Format = "trivy"
	// FormatFindings is the canonical findings JSON itself.
	FormatFindings Format = "findings"
)

// Parser turns raw report bytes into findings with fresh ids.
type Parser func(data []byte) ([]findings.Finding, error)

var parsers = map[Format]Parser{
	FormatPMD:      ParsePMD,
	FormatSpotBugs: ParseSpotBugs,
	FormatTrivy:    ParseTrivy,
	FormatFindings: ParseFindings,
}

// ParserFor returns the parser registered for f.
func ParserFor(f Format) (Parser, error) {
	p, ok := parsers[f]
	if !ok {
		return nil, fmt.Errorf("unsupported report format %q", f)
	}
	return p, nil
}

// NewFindingID returns a short random decimal id: the first five digits of a
// random UUID read as an integer. Ids are per run and never used for identity.
func NewFindingID() string {
	u := uuid.New()
	s := new(big.Int).SetBytes(u[:]).String()
	if len(s) > 5 {
		s = s[:5]
	}
	return s
}

type pmdReport struct {
	Files []struct {
		Name       string `xml:"name,attr"`
		Violations []struct {
			Rule        string `xml:"rule,attr"`
			Ruleset     string `xml:"ruleset,attr"`
			BeginLine   int    `xml:"beginline,attr"`
			EndLine     int    `xml:"endline,attr"`
			BeginColumn int    `xml:"begincolumn,attr"`
			EndColumn   int    `xml:"endcolumn,attr"`
			Text        string `xml:",chardata"`
		} `xml:"violation"`
	} `xml:"file"`
}

// ParsePMD reads a PMD XML report. One finding is produced per violation.
func ParsePMD(data []byte) ([]findings.Finding, error) {
	var rep pmdReport
	if err := xml.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("pmd report: %w", err)
	}
	out := []findings.Finding{}
	for _, f := range rep.Files {
		for _, v := range f.Violations {
			out = append(out, findings.Finding{
				ID:          NewFindingID(),
				Name:        v.Rule,
				Explanation: strings.TrimSpace(v.Text),
				Tags:        v.Ruleset,
				Items: []findings.Location{{
					TextRange: findings.TextRange{
						File:        f.Name,
						StartLine:   v.BeginLine,
						EndLine:     v.EndLine,
						StartColumn: v.BeginColumn,
						EndColumn:   v.EndColumn,
					},
					Patches: []findings.PatchRecord{},
				}},
			})
		}
	}
	return out, nil
}

type spotBugsSourceLine struct {
	SourcePath    string `xml:"sourcepath,attr"`
	Start         string `xml:"start,attr"`
	End           string `xml:"end,attr"`
	StartBytecode string `xml:"startBytecode,attr"`
	EndBytecode   string `xml:"endBytecode,attr"`
}

type spotBugsReport struct {
	Bugs []struct {
		Type        string               `xml:"type,attr"`
		CWEID       string               `xml:"cweid,attr"`
		LongMessage *string              `xml:"LongMessage"`
		SourceLines []spotBugsSourceLine `xml:"SourceLine"`
	} `xml:"BugInstance"`
}

// ParseSpotBugs reads a SpotBugs XML report. File paths are the reported
// sourcepath, relative to a source root; the scanner resolves them later.
func ParseSpotBugs(data []byte) ([]findings.Finding, error) {
	var rep spotBugsReport
	if err := xml.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("spotbugs report: %w", err)
	}
	out := []findings.Finding{}
	for _, b := range rep.Bugs {
		f := findings.Finding{
			ID:          NewFindingID(),
			Name:        strings.TrimSpace(b.Type),
			Explanation: "No detailed explanation available.",
			Tags:        "CWE-XXXX",
			Items:       []findings.Location{},
		}
		if f.Name == "" {
			f.Name = "Unknown Issue"
		}
		if b.LongMessage != nil {
			f.Explanation = strings.TrimSpace(*b.LongMessage)
		}
		if b.CWEID != "" {
			f.Tags = "CWE-" + b.CWEID
		}
		if len(b.SourceLines) > 0 {
			sl := b.SourceLines[0]
			start := atoiOr(sl.Start, 1)
			startBC := atoiOr(sl.StartBytecode, 0)
			file := sl.SourcePath
			if file == "" {
				file = "unknown file"
			}
			f.Items = append(f.Items, findings.Location{
				TextRange: findings.TextRange{
					File:        file,
					StartLine:   start,
					EndLine:     atoiOr(sl.End, start),
					StartColumn: startBC,
					EndColumn:   atoiOr(sl.EndBytecode, startBC),
				},
				Patches: []findings.PatchRecord{},
			})
		}
		out = append(out, f)
	}
	return out, nil
}

type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			Title       *string  `json:"Title"`
			Description *string  `json:"Description"`
			CweIDs      []string `json:"CweIDs"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// ParseTrivy reads a Trivy JSON report. Trivy reports have no line
// information, so locations carry a zero range and are never patched.
func ParseTrivy(data []byte) ([]findings.Finding, error) {
	var rep trivyReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("trivy report: %w", err)
	}
	out := []findings.Finding{}
	for _, r := range rep.Results {
		for _, v := range r.Vulnerabilities {
			name, explanation := "Unknown", "No description available"
			if v.Title != nil {
				name = *v.Title
			}
			if v.Description != nil {
				explanation = strings.TrimSpace(*v.Description)
			}
			tag := "CWE-XXXX"
			if len(v.CweIDs) > 0 {
				tag = v.CweIDs[0]
			}
			out = append(out, findings.Finding{
				ID:          NewFindingID(),
				Name:        name,
				Explanation: explanation,
				Tags:        tag,
				Items: []findings.Location{{
					TextRange: findings.TextRange{File: r.Target},
					Patches:   []findings.PatchRecord{},
				}},
			})
		}
	}
	return out, nil
}

// ParseFindings reads a tool that already emits the canonical format. Ids
// are regenerated like every other analyzer run.
func ParseFindings(data []byte) ([]findings.Finding, error) {
	var list []findings.Finding
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("findings report: %w", err)
	}
	for i := range list {
		list[i].ID = NewFindingID()
	}
	return findings.Normalize(list), nil
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
