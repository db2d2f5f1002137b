// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package state

import (
	"encoding/json"
	"errors"
	"time"
)

// Item names used by the session helpers.
const (
	sessionItem = "session"
	recentItem  = "recent_exports"
)

// MaxRecent is the number of export records retained per project.
const MaxRecent = 10

// Session is the remembered interactive state of a project.
type Session struct {
	Mode  string  `json:"mode"`
	Index int     `json:"index"`
	FPS   int     `json:"fps"`
	Scale float64 `json:"scale"`
}

// ExportRecord describes one completed export of a project.
type ExportRecord struct {
	Path   string    `json:"path"`
	Frames int       `json:"frames"`
	When   time.Time `json:"when"`
}

// SaveSession stores the project's session.
func (db *DB) SaveSession(project string, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.Set(project, sessionItem, b)
}

// LoadSession returns the project's stored session, or ErrNotFound if
// none has been saved.
func (db *DB) LoadSession(project string) (Session, error) {
	b, err := db.Get(project, sessionItem)
	if err != nil {
		return Session{}, err
	}
	var s Session
	err = json.Unmarshal(b, &s)
	return s, err
}

// RecordExport prepends a completed export to the project's recent list,
// truncating it to MaxRecent entries.
func (db *DB) RecordExport(project string, rec ExportRecord) error {
	recent, err := db.RecentExports(project)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	recent = append([]ExportRecord{rec}, recent...)
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}
	b, err := json.Marshal(recent)
	if err != nil {
		return err
	}
	return db.Set(project, recentItem, b)
}

// RecentExports returns the project's recent export records, most recent
// first.
func (db *DB) RecentExports(project string) ([]ExportRecord, error) {
	b, err := db.Get(project, recentItem)
	if err != nil {
		return nil, err
	}
	var recent []ExportRecord
	err = json.Unmarshal(b, &recent)
	return recent, err
}
