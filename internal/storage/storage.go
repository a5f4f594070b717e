// Package storage persists per-guild moderation data in a JSON file store.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/keshon/datastore"
)

const warningsPerUserLimit = 50

// Warning is one recorded moderation warning.
type Warning struct {
	UserID      string    `json:"user_id"`
	ModeratorID string    `json:"moderator_id"`
	Reason      string    `json:"reason"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Record is everything stored for one guild.
type Record struct {
	Warnings   map[string][]Warning `json:"warnings"` // key = userID
	MuteRoleID string               `json:"mute_role_id"`
}

type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

func (s *Storage) getOrCreateGuildRecord(guildID string) (*Record, error) {
	data, exists := s.ds.Get(guildID)
	if !exists {
		record := &Record{Warnings: map[string][]Warning{}}
		s.ds.Add(guildID, record)
		return record, nil
	}

	// Values come back as generic maps after a reload, round-trip
	// through JSON to get the typed record.
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error marshalling data: %w", err)
	}

	var record Record
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("error unmarshalling to *Record: %w", err)
	}

	if record.Warnings == nil {
		record.Warnings = map[string][]Warning{}
	}
	return &record, nil
}

// AddWarning records a warning and returns the user's new warning count.
func (s *Storage) AddWarning(guildID string, w Warning) (int, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return 0, err
	}

	list := append(record.Warnings[w.UserID], w)
	if len(list) > warningsPerUserLimit {
		list = list[len(list)-warningsPerUserLimit:]
	}
	record.Warnings[w.UserID] = list

	s.ds.Add(guildID, record)
	return len(list), nil
}

// Warnings returns a user's warnings for a guild, oldest first.
func (s *Storage) Warnings(guildID, userID string) ([]Warning, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return nil, err
	}
	return record.Warnings[userID], nil
}

// ClearWarnings removes all of a user's warnings and reports how many.
func (s *Storage) ClearWarnings(guildID, userID string) (int, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return 0, err
	}

	n := len(record.Warnings[userID])
	delete(record.Warnings, userID)
	s.ds.Add(guildID, record)
	return n, nil
}

// SetMuteRole remembers the guild's mute role.
func (s *Storage) SetMuteRole(guildID, roleID string) error {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return err
	}
	record.MuteRoleID = roleID
	s.ds.Add(guildID, record)
	return nil
}

// MuteRole returns the guild's mute role, empty if unset.
func (s *Storage) MuteRole(guildID string) (string, error) {
	record, err := s.getOrCreateGuildRecord(guildID)
	if err != nil {
		return "", err
	}
	return record.MuteRoleID, nil
}
