package appointment

import (
	"context"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/domain/workforce"
)

// Matcher picks a replacement worker during reassignment. It takes the first
// active worker of the organization with the required subtype in worker id
// order; there is no load or distance ranking.
type Matcher struct {
	dir workforce.Directory
}

func NewMatcher(dir workforce.Directory) *Matcher {
	return &Matcher{dir: dir}
}

// FindAvailable returns nil without error when nobody qualifies.
func (m *Matcher) FindAvailable(ctx context.Context, orgID, subtype, exclude string) (*workforce.Worker, error) {
	workers, err := m.dir.ListAvailableWorkers(ctx, orgID, subtype, exclude)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		if w.Active && w.ID != exclude {
			return w, nil
		}
	}
	return nil, nil
}
