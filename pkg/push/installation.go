package push

import (
	"context"
	"slices"
)

// Installation is one registered device of a variant.
type Installation struct {
	DeviceToken string   `json:"deviceToken"`
	DeviceType  string   `json:"deviceType,omitempty"`
	Alias       string   `json:"alias,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// MatchesCriteria applies the endpoint filter rules: an installation matches when it is
// enabled, has at least one of the categories, one of the aliases and one of the
// device types. An empty filter list matches everything.
func (i Installation) MatchesCriteria(categories, aliases, deviceTypes []string) bool {
	if !i.Enabled {
		return false
	}
	if len(aliases) > 0 && !slices.Contains(aliases, i.Alias) {
		return false
	}
	if len(deviceTypes) > 0 && !slices.Contains(deviceTypes, i.DeviceType) {
		return false
	}
	if len(categories) > 0 && !slices.ContainsFunc(i.Categories, func(c string) bool {
		return slices.Contains(categories, c)
	}) {
		return false
	}
	return true
}

// InstallationStore manages device installations and doubles as the EndpointResolver
// and InstallationPruner of the dispatcher.
type InstallationStore interface {
	EndpointResolver
	InstallationPruner
	RegisterInstallation(ctx context.Context, variantID string, installation Installation) error
	UnregisterInstallation(ctx context.Context, variantID string, deviceToken string) error
}
