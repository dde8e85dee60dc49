package placement

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shmel1k/yblb/internal/cluster"
)

const (
	// PrimaryPlacements is the tier of rules declared without a preference.
	PrimaryPlacements = 1
	FirstFallback     = 2
	MaxPreference     = 10

	// RestOfCluster is the synthetic tier of nodes matching no rule.
	// It is always walked after every declared tier.
	RestOfCluster = MaxPreference + 1
)

const wildcard = "*"

var ErrInvalidTopologyKeys = errors.New("invalid topology keys")

// Rule is a single cloud.region.zone[:tier] entry.
type Rule struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
	Zone   string `json:"zone"`
	Tier   int    `json:"tier"`
}

// Matches reports whether the placement satisfies the rule.
// Comparison is case-insensitive, zone might be a wildcard.
func (r Rule) Matches(p cluster.Placement) bool {
	if !strings.EqualFold(r.Cloud, p.Cloud) || !strings.EqualFold(r.Region, p.Region) {
		return false
	}

	return r.Zone == wildcard || strings.EqualFold(r.Zone, p.Zone)
}

func (r Rule) String() string {
	return r.Cloud + "." + r.Region + "." + r.Zone + ":" + strconv.Itoa(r.Tier)
}

// Classifier assigns nodes to placement tiers.
// A nil Classifier puts every node into RestOfCluster.
type Classifier struct {
	rules []Rule
	tiers []int
}

// Parse builds a classifier from comma-separated cloud.region.zone[:tier] entries.
func Parse(keys string) (*Classifier, error) {
	if strings.TrimSpace(keys) == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidTopologyKeys)
	}

	c := &Classifier{}
	seen := make(map[int]struct{})
	for _, entry := range strings.Split(keys, ",") {
		rule, err := parseRule(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTopologyKeys, entry, err)
		}
		c.rules = append(c.rules, rule)
		if _, ok := seen[rule.Tier]; !ok {
			seen[rule.Tier] = struct{}{}
			c.tiers = append(c.tiers, rule.Tier)
		}
	}

	sort.Ints(c.tiers)
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Tier < c.rules[j].Tier
	})

	return c, nil
}

func parseRule(entry string) (Rule, error) {
	if entry == "" {
		return Rule{}, errors.New("empty entry")
	}

	parts := strings.Split(entry, ":")
	if len(parts) > 2 {
		return Rule{}, errors.New("too many ':' separators")
	}

	tier := PrimaryPlacements
	if len(parts) == 2 {
		v, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return Rule{}, fmt.Errorf("preference value is not a number: %v", err)
		}
		if v < PrimaryPlacements || v > MaxPreference {
			return Rule{}, fmt.Errorf("preference value must be in range [%d, %d], got %d", PrimaryPlacements, MaxPreference, v)
		}
		tier = v
	}

	segments := strings.Split(strings.TrimSpace(parts[0]), ".")
	if len(segments) != 3 {
		return Rule{}, errors.New("placement must be in the form cloud.region.zone")
	}
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
		if segments[i] == "" {
			return Rule{}, errors.New("placement has an empty segment")
		}
	}
	if segments[0] == wildcard || segments[1] == wildcard {
		return Rule{}, errors.New("wildcard is allowed only for zone")
	}

	return Rule{
		Cloud:  segments[0],
		Region: segments[1],
		Zone:   segments[2],
		Tier:   tier,
	}, nil
}

// Classify returns the lowest declared tier matching the placement or RestOfCluster.
func (c *Classifier) Classify(p cluster.Placement) int {
	if c == nil {
		return RestOfCluster
	}

	// Rules are sorted by tier.
	for _, r := range c.rules {
		if r.Matches(p) {
			return r.Tier
		}
	}

	return RestOfCluster
}

// Tiers returns the declared tiers in ascending order.
func (c *Classifier) Tiers() []int {
	if c == nil {
		return nil
	}

	dst := make([]int, len(c.tiers))
	copy(dst, c.tiers)

	return dst
}

func (c *Classifier) Rules() []Rule {
	if c == nil {
		return nil
	}

	dst := make([]Rule, len(c.rules))
	copy(dst, c.rules)

	return dst
}

func (c *Classifier) String() string {
	if c == nil {
		return ""
	}

	keys := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		keys = append(keys, r.String())
	}

	return strings.Join(keys, ",")
}

// TierMap is a mapping of tier to the addresses of the nodes classified into it.
type TierMap map[int][]string

// Group recomputes the tier of every node from scratch.
func (c *Classifier) Group(nodes []cluster.Node) TierMap {
	res := make(TierMap)
	for i := range nodes {
		n := &nodes[i]
		tier := c.Classify(n.Placement)
		res[tier] = append(res[tier], n.Address)
	}

	return res
}

// Order returns the tiers to walk: the declared ones ascending, RestOfCluster last.
func (m TierMap) Order() []int {
	res := make([]int, 0, len(m))
	for tier := range m {
		if tier != RestOfCluster {
			res = append(res, tier)
		}
	}
	sort.Ints(res)

	if _, ok := m[RestOfCluster]; ok {
		res = append(res, RestOfCluster)
	}

	return res
}
