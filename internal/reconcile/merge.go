package reconcile

import (
	"strings"

	"animestream/catalogservice/internal/domain"
)

// MergeFloor is the minimum score a connector from a later pass needs to be
// considered at all.
const MergeFloor = 0.5

// MergeConnectors folds secondary into primary keeping one connector per
// provider. A secondary connector fills an empty slot when it clears
// MergeFloor and replaces an occupied one only with a strictly higher score,
// so the first processed connector wins a tie.
func MergeConnectors(primary, secondary []domain.Connector) []domain.Connector {
	out := make([]domain.Connector, 0, len(primary)+len(secondary))
	for _, connector := range primary {
		out = place(out, connector)
	}
	for _, connector := range secondary {
		if connector.Similarity.Score < MergeFloor {
			continue
		}
		out = place(out, connector)
	}
	return out
}

func place(connectors []domain.Connector, candidate domain.Connector) []domain.Connector {
	if strings.TrimSpace(candidate.ProviderID) == "" || strings.TrimSpace(candidate.ID) == "" {
		return connectors
	}
	for i, existing := range connectors {
		if !strings.EqualFold(existing.ProviderID, candidate.ProviderID) {
			continue
		}
		if candidate.Similarity.Score > existing.Similarity.Score {
			connectors[i] = candidate
		}
		return connectors
	}
	return append(connectors, candidate)
}

// MergeRecords combines two record lists by canonical id. Primary order is
// kept; records only present in secondary are appended.
func MergeRecords(primary, secondary []domain.UnifiedRecord) []domain.UnifiedRecord {
	out := make([]domain.UnifiedRecord, 0, len(primary)+len(secondary))
	index := make(map[string]int, len(primary)+len(secondary))
	for _, record := range primary {
		key := string(record.Type) + ":" + record.ID
		if i, ok := index[key]; ok {
			out[i].Connectors = MergeConnectors(out[i].Connectors, record.Connectors)
			continue
		}
		record.Connectors = MergeConnectors(record.Connectors, nil)
		index[key] = len(out)
		out = append(out, record)
	}
	for _, record := range secondary {
		key := string(record.Type) + ":" + record.ID
		if i, ok := index[key]; ok {
			out[i].Connectors = MergeConnectors(out[i].Connectors, record.Connectors)
			continue
		}
		record.Connectors = MergeConnectors(nil, record.Connectors)
		index[key] = len(out)
		out = append(out, record)
	}
	return out
}
