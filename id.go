package shepherd

import "github.com/xraph/shepherd/id"

// ID is the primary identifier type for all Shepherd entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
