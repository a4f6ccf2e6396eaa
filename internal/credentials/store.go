package credentials

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultKey is the storage key the token record is written under.
const DefaultKey = "pipeline_console_auth"

// Record is the persisted access/refresh/expiry triple backing a session.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// HasExpiry reports whether an expiry was recorded.
func (r Record) HasExpiry() bool {
	return !r.ExpiresAt.IsZero()
}

// recordJSON is the wire form; the expiry is epoch milliseconds.
type recordJSON struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := recordJSON{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if r.HasExpiry() {
		w.ExpiresAt = r.ExpiresAt.UnixMilli()
	}
	return json.Marshal(w)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.AccessToken = w.AccessToken
	r.RefreshToken = w.RefreshToken
	r.ExpiresAt = time.Time{}
	if w.ExpiresAt > 0 {
		r.ExpiresAt = time.UnixMilli(w.ExpiresAt)
	}
	return nil
}

// Store persists the token record as one serialized value under one key, so
// every read and write sees the three fields together.
//
// Store operations never return errors: a failed write is reported as false
// and a failed read as an empty value.
type Store struct {
	backend Backend
	key     string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// NewStore creates a token store over the given backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{backend: backend, key: DefaultKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key in use.
func (s *Store) Key() string {
	return s.key
}

// SetTokens writes a new record. refresh and expiresAt may be empty/zero.
func (s *Store) SetTokens(access, refresh string, expiresAt time.Time) bool {
	return s.Save(Record{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt})
}

// Save writes rec as a single unit.
func (s *Store) Save(rec Record) bool {
	if rec.AccessToken == "" {
		log.Warn().Str("key", s.key).Msg("refusing to store empty access token")
		return false
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("failed to marshal token record")
		return false
	}

	if err := s.backend.Set(s.key, data); err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("failed to write token record")
		return false
	}

	log.Debug().
		Str("key", s.key).
		Str("token", Fingerprint(rec.AccessToken)).
		Time("expiresAt", rec.ExpiresAt).
		Msg("token record stored")

	return true
}

// Record returns the stored record, if any.
func (s *Store) Record() (Record, bool) {
	data, err := s.backend.Get(s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Str("key", s.key).Msg("failed to read token record")
		}
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("discarding unreadable token record")
		return Record{}, false
	}

	if rec.AccessToken == "" {
		return Record{}, false
	}

	return rec, true
}

// Token returns the access token or "".
func (s *Store) Token() string {
	rec, _ := s.Record()
	return rec.AccessToken
}

// RefreshToken returns the refresh token or "".
func (s *Store) RefreshToken() string {
	rec, _ := s.Record()
	return rec.RefreshToken
}

// Expiry returns the recorded expiry; ok is false when none is recorded.
func (s *Store) Expiry() (time.Time, bool) {
	rec, found := s.Record()
	if !found || !rec.HasExpiry() {
		return time.Time{}, false
	}
	return rec.ExpiresAt, true
}

// Clear removes the record.
func (s *Store) Clear() bool {
	if err := s.backend.Delete(s.key); err != nil {
		log.Error().Err(err).Str("key", s.key).Msg("failed to clear token record")
		return false
	}

	log.Debug().Str("key", s.key).Msg("token record cleared")
	return true
}
