package platforms

import (
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// Registry resolves configured platform profiles
type Registry struct {
	profiles map[models.Platform]interfaces.PlatformProfile
}

var _ interfaces.PlatformRegistry = (*Registry)(nil)

// NewRegistry builds a profile for every [platforms.<name>] section
func NewRegistry(platforms map[string]common.PlatformConfig, browser common.BrowserConfig, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{profiles: make(map[models.Platform]interfaces.PlatformProfile, len(platforms))}

	for name, cfg := range platforms {
		profile, err := NewProfile(models.Platform(name), cfg, browser)
		if err != nil {
			return nil, err
		}
		r.profiles[profile.Platform()] = profile
	}

	logger.Info().Strs("platforms", r.Names()).Msg("Platform profiles loaded")
	return r, nil
}

// Register adds or replaces a profile
func (r *Registry) Register(profile interfaces.PlatformProfile) {
	r.profiles[profile.Platform()] = profile
}

func (r *Registry) Profile(platform models.Platform) (interfaces.PlatformProfile, error) {
	profile, ok := r.profiles[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPlatformNotConfigured, platform)
	}
	return profile, nil
}

// Names lists the configured platforms in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for p := range r.profiles {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
