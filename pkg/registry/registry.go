// Package registry resolves the expert build serving a user, with
// percentage-based canary rollouts between versions.
package registry

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
)

var (
	ErrExpertNotFound = errors.New("registry: expert not found")
	ErrBadVersion     = errors.New("registry: invalid version")
	ErrStaleVersion   = errors.New("registry: version is not newer")
)

// Registry is the source of truth for installed experts.
type Registry interface {
	Register(e experts.Expert) error
	Get(kind experts.Kind) (experts.Expert, error)
	GetForUser(kind experts.Kind, userID string) (experts.Expert, error)
	SetRollout(kind experts.Kind, canary experts.Expert, percentage int) error
	// List returns the stable builds in menu order.
	List() []experts.Expert
	// Unregister removes an expert, e.g. to take it off the menu.
	Unregister(kind experts.Kind) error
}

type expertState struct {
	stable        experts.Expert
	stableVersion *semver.Version
	canary        experts.Expert
	canaryMillis  int // 0-10000 (0% to 100%)
}

// InMemoryRegistry is a thread-safe in-memory implementation.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	experts map[experts.Kind]*expertState
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		experts: make(map[experts.Kind]*expertState),
	}
}

// NewDefault registers every built-in expert.
func NewDefault(env experts.Env) (*InMemoryRegistry, error) {
	all, err := experts.All(env)
	if err != nil {
		return nil, err
	}
	r := NewInMemoryRegistry()
	for _, e := range all {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func parseVersion(e experts.Expert) (*semver.Version, error) {
	v, err := semver.NewVersion(e.Version())
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrBadVersion, e.ID(), e.Version(), err)
	}
	return v, nil
}

// Register installs e as the stable build and clears any rollout. A build
// older than the installed one is rejected.
func (r *InMemoryRegistry) Register(e experts.Expert) error {
	if e == nil {
		return errors.New("registry: nil expert")
	}
	v, err := parseVersion(e)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.experts[e.ID()]; ok && v.LessThan(cur.stableVersion) {
		return fmt.Errorf("%w: %s %s < %s", ErrStaleVersion, e.ID(), v, cur.stableVersion)
	}
	r.experts[e.ID()] = &expertState{stable: e, stableVersion: v}
	return nil
}

func (r *InMemoryRegistry) Unregister(kind experts.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.experts[kind]; !ok {
		return ErrExpertNotFound
	}
	delete(r.experts, kind)
	return nil
}

// SetRollout serves canary to percentage of users. The canary must be a
// newer build of the same expert; a nil canary or 0% ends the rollout.
func (r *InMemoryRegistry) SetRollout(kind experts.Kind, canary experts.Expert, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return errors.New("registry: percentage must be 0-100")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.experts[kind]
	if !ok {
		return ErrExpertNotFound
	}
	if canary != nil {
		if canary.ID() != kind {
			return fmt.Errorf("registry: canary %s does not match %s", canary.ID(), kind)
		}
		v, err := parseVersion(canary)
		if err != nil {
			return err
		}
		if !v.GreaterThan(state.stableVersion) {
			return fmt.Errorf("%w: canary %s <= stable %s", ErrStaleVersion, v, state.stableVersion)
		}
	}

	state.canary = canary
	state.canaryMillis = percentage * 100 // precision 0.01%
	return nil
}

func (r *InMemoryRegistry) Get(kind experts.Kind) (experts.Expert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if state, ok := r.experts[kind]; ok {
		return state.stable, nil
	}
	return nil, ErrExpertNotFound
}

// GetForUser returns the canary for users whose bucket falls inside the
// rollout and the stable build otherwise. Buckets are stable per user.
func (r *InMemoryRegistry) GetForUser(kind experts.Kind, userID string) (experts.Expert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.experts[kind]
	if !ok {
		return nil, ErrExpertNotFound
	}

	if state.canary != nil && state.canaryMillis > 0 {
		if Bucket(userID) < state.canaryMillis {
			return state.canary, nil
		}
	}
	return state.stable, nil
}

// Bucket maps a user to 0-9999.
func Bucket(userID string) int {
	return int(crc32.ChecksumIEEE([]byte(strings.ToLower(userID))) % 10000)
}

func (r *InMemoryRegistry) List() []experts.Expert {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]experts.Expert, 0, len(r.experts))
	for _, k := range experts.Kinds {
		if s, ok := r.experts[k]; ok {
			list = append(list, s.stable)
		}
	}
	return list
}
