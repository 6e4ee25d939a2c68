package correlation

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/yairfalse/fuse/pkg/domain"
)

// PublicDimensions returns the intersection of agg dimensions across all of
// the strategy's query configs, sorted for stable iteration.
func PublicDimensions(strategy *domain.Strategy) []string {
	var common map[string]bool
	for _, qc := range strategy.QueryConfigs() {
		dims := make(map[string]bool, len(qc.AggDimensions))
		for _, d := range qc.AggDimensions {
			if d != "" {
				dims[d] = true
			}
		}
		if common == nil {
			common = dims
			continue
		}
		for d := range common {
			if !dims[d] {
				delete(common, d)
			}
		}
	}

	out := make([]string, 0, len(common))
	for d := range common {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ProjectDimensions reads the public dimension values out of the event.
// Missing keys project to the empty string so two alerts lacking the same
// key still land on the same hash.
func ProjectDimensions(event *domain.Event, keys []string) map[string]string {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		v, _ := event.Field(key)
		values[key] = v
	}
	return values
}

// DimensionHash is the stable hash of a projected dimension map. Two alerts
// hash equal iff their values on the public dimensions are equal.
func DimensionHash(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, values[k]}
	}
	raw, _ := json.Marshal(pairs)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// DisplayDimensions decorates projected dimension values with the display
// key/value pairs carried on the alert, when they agree on the raw value.
func DisplayDimensions(values map[string]string, alertDims []domain.Dimension) []domain.Dimension {
	translations := make(map[string]domain.Dimension, len(alertDims))
	for _, d := range alertDims {
		translations[d.Key] = d
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dims := make([]domain.Dimension, 0, len(keys))
	for _, key := range keys {
		value := values[key]
		displayKey, displayValue := key, value
		if t, ok := translations[key]; ok && t.Value == value {
			if t.DisplayKey != "" {
				displayKey = t.DisplayKey
			}
			if t.DisplayValue != "" {
				displayValue = t.DisplayValue
			}
		}
		dims = append(dims, domain.Dimension{
			Key:          key,
			Value:        value,
			DisplayKey:   displayKey,
			DisplayValue: displayValue,
		})
	}
	return dims
}

// ExtractTarget derives the derived event's target from its dimensions: a
// host ip wins, then a service instance, otherwise the event targets topology.
func ExtractTarget(values map[string]string) (targetType, target string) {
	for _, key := range []string{"target_ip", "ip", "tags.ip"} {
		if v, ok := values[key]; ok && v != "" {
			if cloudID, ok := values["cloud_id"]; ok && cloudID != "" {
				return domain.TargetTypeHost, v + "|" + cloudID
			}
			return domain.TargetTypeHost, v
		}
	}
	for _, key := range []string{"service_instance_id", "tags.service_instance_id"} {
		if v, ok := values[key]; ok && v != "" {
			return domain.TargetTypeService, v
		}
	}
	return domain.TargetTypeTopo, ""
}

// StripTagPrefix normalises a dimension key for derived event tags.
func StripTagPrefix(key string) string {
	return strings.TrimPrefix(key, domain.TagPrefix)
}
