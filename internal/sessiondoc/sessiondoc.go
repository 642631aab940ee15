// SPDX-License-Identifier: MIT

// Package sessiondoc parses XNAT subject documents, the XML that carries
// per-scan quality and UID metadata for a session.
package sessiondoc

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// QualityUnusable is the scan quality value that marks a scan as not worth
// downloading.
const QualityUnusable = "unusable"

// Document is a parsed subject document.
type Document struct {
	SubjectID   string       `xml:"ID,attr"`
	Label       string       `xml:"label,attr"`
	Experiments []Experiment `xml:"experiments>experiment"`
}

// Experiment holds the scan entries of one imaging session.
type Experiment struct {
	ID    string `xml:"ID,attr"`
	Scans []Scan `xml:"scans>scan"`
}

// Scan is one scan entry of the session document.
type Scan struct {
	ID                string `xml:"ID,attr"`
	UID               string `xml:"UID,attr"`
	Type              string `xml:"type,attr"`
	Quality           string `xml:"quality"`
	SeriesDescription string `xml:"series_description"`
}

// Parse decodes a subject document. Element names are matched by local name,
// so the xnat namespace prefix the archive uses does not matter.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("sessiondoc: parse subject document: %w", err)
	}
	if len(doc.Experiments) == 0 {
		return nil, fmt.Errorf("sessiondoc: subject document contains no experiments")
	}
	return &doc, nil
}

// ScansFor returns the scan entries of the experiment with the given ID, or
// the first experiment's scans when the ID is empty or unknown.
func (d *Document) ScansFor(experimentID string) []Scan {
	for _, exp := range d.Experiments {
		if exp.ID == experimentID {
			return exp.Scans
		}
	}
	return d.Experiments[0].Scans
}

// QualityByScan maps scan ID to its recorded quality.
func QualityByScan(scans []Scan) map[string]string {
	out := make(map[string]string, len(scans))
	for _, s := range scans {
		out[s.ID] = s.Quality
	}
	return out
}

// UIDPrefixByScan maps a scan's UID prefix to its ID. NORDIC .dat file names
// embed the series timestamp, which is the scan UID without the trailing
// ".0.0.0" the archive appends.
func UIDPrefixByScan(scans []Scan) map[string]string {
	out := make(map[string]string, len(scans))
	for _, s := range scans {
		if s.UID == "" {
			continue
		}
		out[strings.TrimSuffix(s.UID, ".0.0.0")] = s.ID
	}
	return out
}
