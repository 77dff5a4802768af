// Package statestore persists per-device discovery results between
// runs. A stored DeviceState lets the poller resume with a known
// transport, auth strategy, and capability instead of re-running
// discovery, and gives the discovery pipeline its "previously stored
// strategy" hint.
//
// Storage layout:
//
//	{workspace}/
//	  devices/
//	    {host}/
//	      state.json
//
// Thread-safety: operations are protected by file locks so concurrent
// invocations against the same workspace stay consistent.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotFound reports that no state is stored for a device.
var ErrNotFound = errors.New("no stored state for device")

// DeviceState is everything discovery learned about one device that is
// worth keeping across process restarts.
type DeviceState struct {
	// Host is the operator-supplied address the state is keyed on.
	Host string `json:"host"`

	// BaseURL is the working base URL discovery settled on.
	BaseURL string `json:"base_url"`

	// UsesHTTPS and LegacyTLS reproduce the sticky transport config.
	UsesHTTPS bool `json:"uses_https"`
	LegacyTLS bool `json:"legacy_tls"`

	// AuthStrategy is the strategy kind that authenticated last time.
	AuthStrategy string `json:"auth_strategy"`

	// CapabilityID is the bound capability, ModelID the declared model
	// document if the operator selected one.
	CapabilityID string `json:"capability_id"`
	ModelID      string `json:"model_id,omitempty"`

	// UpdatedAt is when this state was last written (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a file-based device state store rooted in a workspace
// directory.
type Store struct {
	root string
}

// NewStore creates a store under workspaceRoot. Call Initialize before
// first use.
func NewStore(workspaceRoot string) *Store {
	return &Store{root: filepath.Join(workspaceRoot, "devices")}
}

// Initialize creates the store's directory structure.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", s.root, err)
	}
	return nil
}

// Load retrieves the stored state for a host. Returns ErrNotFound when
// the device was never saved.
func (s *Store) Load(ctx context.Context, host string) (*DeviceState, error) {
	statePath := s.statePath(host)

	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}

	lock := flock.New(statePath + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to acquire read lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read device state: %w", err)
	}

	var state DeviceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse device state: %w", err)
	}
	return &state, nil
}

// Save writes the state for a host, replacing any previous state and
// stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, state *DeviceState) error {
	if state.Host == "" {
		return fmt.Errorf("device state is missing host")
	}

	deviceDir := s.deviceDir(state.Host)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create device directory: %w", err)
	}

	state.UpdatedAt = time.Now().UTC()

	statePath := s.statePath(state.Host)
	lock := flock.New(statePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal device state: %w", err)
	}
	if err := os.WriteFile(statePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write device state: %w", err)
	}
	return nil
}

// Delete removes a device's stored state. Deleting an unknown device
// returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, host string) error {
	deviceDir := s.deviceDir(host)
	if _, err := os.Stat(deviceDir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	if err := os.RemoveAll(deviceDir); err != nil {
		return fmt.Errorf("failed to delete device state: %w", err)
	}
	return nil
}

// List returns every stored device state, sorted by host. Devices with
// unreadable state are skipped.
func (s *Store) List(ctx context.Context) ([]*DeviceState, error) {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return []*DeviceState{}, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var states []*DeviceState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.loadFromDir(entry.Name())
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Host < states[j].Host
	})
	return states, nil
}

func (s *Store) loadFromDir(dir string) (*DeviceState, error) {
	data, err := os.ReadFile(filepath.Join(s.root, dir, "state.json"))
	if err != nil {
		return nil, err
	}
	var state DeviceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) deviceDir(host string) string {
	return filepath.Join(s.root, sanitizeHost(host))
}

func (s *Store) statePath(host string) string {
	return filepath.Join(s.deviceDir(host), "state.json")
}

// sanitizeHost maps a host to a directory name. Hosts carry dots,
// colons (IPv6, ports), and brackets; anything outside a safe set
// becomes a dash.
func sanitizeHost(host string) string {
	out := make([]rune, 0, len(host))
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
