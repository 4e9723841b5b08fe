package repository

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tier is a notify lead time before a session starts.
type Tier time.Duration

func (t Tier) Duration() time.Duration {
	return time.Duration(t)
}

// String renders the tier compactly ("24h", "1h30m", "10m", "0s") so it is
// stable as a ledger kind and inside dedup keys.
func (t Tier) String() string {
	total := int64(time.Duration(t) / time.Second)
	if total == 0 {
		return "0s"
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	var b strings.Builder
	if h > 0 {
		b.WriteString(strconv.FormatInt(h, 10) + "h")
	}
	if m > 0 {
		b.WriteString(strconv.FormatInt(m, 10) + "m")
	}
	if s > 0 {
		b.WriteString(strconv.FormatInt(s, 10) + "s")
	}
	return b.String()
}

// NotifyTiers is the decoded session notify column, longest lead first.
type NotifyTiers []Tier

const notifyNone = "none"

// ParseNotifyTiers decodes a comma separated list of Go durations such as
// "24h,10m". Empty input and "none" yield no tiers.
func ParseNotifyTiers(raw string) (NotifyTiers, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, notifyNone) {
		return nil, nil
	}
	seen := make(map[Tier]struct{})
	tiers := make(NotifyTiers, 0, 2)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid notify tier %q: %w", part, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("notify tier %q must not be negative", part)
		}
		if d%time.Second != 0 {
			return nil, fmt.Errorf("notify tier %q must be whole seconds", part)
		}
		tier := Tier(d)
		if _, dup := seen[tier]; dup {
			continue
		}
		seen[tier] = struct{}{}
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] > tiers[j] })
	if len(tiers) == 0 {
		return nil, nil
	}
	return tiers, nil
}

// String is the canonical stored encoding.
func (n NotifyTiers) String() string {
	if len(n) == 0 {
		return notifyNone
	}
	parts := make([]string, 0, len(n))
	for _, t := range n {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}
