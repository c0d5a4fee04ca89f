package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Bridge answers "which concepts are related to these" from the tenant's
// knowledge graph. The graph is maintained by the ingestion pipeline; the
// engine only reads, and always under a short deadline.
type Bridge struct {
	driver neo4j.DriverWithContext
}

func New(uri, username, password string) (*Bridge, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Bridge{driver: driver}, nil
}

func (b *Bridge) RelatedConcepts(ctx context.Context, tenantID string, concepts []string, limit int) ([]string, error) {
	if len(concepts) == 0 || limit <= 0 {
		return nil, nil
	}

	const query = `
MATCH (c:Concept)-[:RELATED_TO]-(related:Concept)
WHERE c.tenant_id = $tenant_id AND c.name IN $concepts
  AND NOT related.name IN $concepts
RETURN DISTINCT related.name AS name, count(*) AS strength
ORDER BY strength DESC, name
LIMIT $limit
`
	result, err := neo4j.ExecuteQuery(ctx, b.driver, query, map[string]any{
		"tenant_id": tenantID,
		"concepts":  concepts,
		"limit":     limit,
	}, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("query related concepts: %w", err)
	}

	out := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		name, _, err := neo4j.GetRecordValue[string](record, "name")
		if err != nil {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (b *Bridge) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}
