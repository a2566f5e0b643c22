package zone

import "fmt"

// CascadeApplies reports whether moving a zone to target also moves its
// descendants.
func CascadeApplies(target Status) bool {
	return target == StatusArchived || target == StatusSuspended
}

// ChildrenFunc returns the ids of the direct children of a zone.
type ChildrenFunc func(zoneID string) ([]string, error)

// CollectDescendants walks the tree below rootID breadth-first with an
// explicit worklist and returns every descendant id once, in visit order.
// The root itself is not included. Ids seen twice are ignored, so a corrupt
// parent chain cannot loop forever.
func CollectDescendants(rootID string, childrenOf ChildrenFunc) ([]string, error) {
	seen := map[string]struct{}{rootID: {}}
	queue := []string{rootID}
	var out []string

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := childrenOf(id)
		if err != nil {
			return nil, fmt.Errorf("children of zone %s: %w", id, err)
		}
		for _, c := range children {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out, nil
}

// NeedsCascade reports whether a descendant currently at status must be
// rewritten to target. Archived zones never change and zones already at
// target are skipped, which makes re-running a cascade a no-op.
func NeedsCascade(current, target Status) bool {
	if current == target || current == StatusArchived {
		return false
	}
	return true
}

// Ancestry orders zones from the given zone up to the root. parentOf
// returns the zone for an id or nil when it does not exist. The walk stops
// at a missing parent or a repeated id.
func Ancestry(z *Zone, parentOf func(id string) (*Zone, error)) ([]*Zone, error) {
	chain := []*Zone{z}
	seen := map[string]struct{}{z.ID: {}}
	cur := z
	for !cur.IsRoot() {
		parent, err := parentOf(cur.ParentZoneID)
		if err != nil {
			return nil, fmt.Errorf("parent of zone %s: %w", cur.ID, err)
		}
		if parent == nil {
			break
		}
		if _, dup := seen[parent.ID]; dup {
			break
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		cur = parent
	}
	return chain, nil
}
