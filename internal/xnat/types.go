// SPDX-License-Identifier: MIT

package xnat

import "strconv"

// SessionQuery narrows the MR session search. Either ExperimentID is set, or
// SubjectLabel together with Project.
type SessionQuery struct {
	Project      string
	SubjectLabel string
	ExperimentID string
}

// Experiment is one row of an MR session query result.
type Experiment struct {
	ID        string
	Label     string
	Project   string
	SubjectID string
}

// File describes a downloadable file as listed by the archive.
type File struct {
	Name       string
	Size       int64
	URI        string
	Collection string
	Digest     string
}

// resultSet is the envelope every JSON listing endpoint responds with.
// Values are strings throughout, including sizes.
type resultSet struct {
	ResultSet struct {
		Result       []map[string]string `json:"Result"`
		TotalRecords string              `json:"totalRecords"`
	} `json:"ResultSet"`
}

func fileFromRow(row map[string]string) File {
	size, _ := strconv.ParseInt(row["Size"], 10, 64)
	return File{
		Name:       row["Name"],
		Size:       size,
		URI:        row["URI"],
		Collection: row["collection"],
		Digest:     row["digest"],
	}
}
