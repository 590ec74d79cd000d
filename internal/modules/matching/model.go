// README: Compatibility contract consumed by the matching service.
package matching

import (
	"context"

	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

// Provider proposes passenger intents compatible with a driver offer. It is an
// external collaborator; an error means "no matches this cycle".
type Provider interface {
	FindMatches(ctx context.Context, driver *intent.Intent) ([]types.ID, error)
}

const (
	defaultRadiusKm = 3.0
	defaultLimit    = 20
)
