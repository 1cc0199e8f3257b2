package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/query"
)

// Neo4jRepository stores elements as :Element nodes
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

var neo4jSchema = []string{
	`CREATE CONSTRAINT element_id IF NOT EXISTS FOR (e:Element) REQUIRE e.id IS UNIQUE`,
	`CREATE INDEX element_type IF NOT EXISTS FOR (e:Element) ON (e.typeTag)`,
	`CREATE INDEX element_short_name IF NOT EXISTS FOR (e:Element) ON (e.typeTag, e.shortName)`,
}

// NewNeo4j creates a new Neo4j repository
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	repo := &Neo4jRepository{driver: driver, database: database}

	session := repo.session(ctx)
	defer session.Close(ctx)
	for _, stmt := range neo4jSchema {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			driver.Close(ctx)
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return repo, nil
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Neo4jRepository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

// CreateElement creates a new :Element node
func (r *Neo4jRepository) CreateElement(ctx context.Context, rec element.Record) (element.Record, error) {
	rec = element.Record{ID: rec.ID, TypeTag: rec.TypeTag, Attributes: sanitize(rec.Attributes)}
	params, err := elementParams(rec, time.Now())
	if err != nil {
		return element.Record{}, err
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := neo4jCheckShortName(ctx, tx, rec); err != nil {
			return nil, err
		}

		query := `
			CREATE (e:Element {
				id: $id,
				typeTag: $typeTag,
				shortName: $shortName,
				attributes: $attributes,
				refs: $refs,
				created: datetime($now),
				modified: datetime($now)
			})
		`
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return element.Record{}, err
	}
	return rec, nil
}

// GetElement retrieves an element by id
func (r *Neo4jRepository) GetElement(ctx context.Context, typeTag, id string) (element.Record, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return neo4jGet(ctx, tx, typeTag, id)
	})
	if err != nil {
		return element.Record{}, err
	}
	return result.(element.Record), nil
}

// UpdateElement merges changed into the stored attributes
func (r *Neo4jRepository) UpdateElement(ctx context.Context, typeTag, id string, changed map[string]any) (element.Record, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		current, err := neo4jGet(ctx, tx, typeTag, id)
		if err != nil {
			return nil, err
		}

		merged := current.Merge(sanitize(changed))
		if err := neo4jCheckShortName(ctx, tx, merged); err != nil {
			return nil, err
		}

		params, err := elementParams(merged, time.Now())
		if err != nil {
			return nil, err
		}
		query := `
			MATCH (e:Element {id: $id})
			SET e.shortName = $shortName,
			    e.attributes = $attributes,
			    e.refs = $refs,
			    e.modified = datetime($now)
		`
		if _, err := tx.Run(ctx, query, params); err != nil {
			return nil, err
		}
		return merged, nil
	})
	if err != nil {
		return element.Record{}, err
	}
	return result.(element.Record), nil
}

// DeleteElement removes an element node
func (r *Neo4jRepository) DeleteElement(ctx context.Context, typeTag, id string, force bool) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		current, err := neo4jGet(ctx, tx, "", id)
		if element.KindOf(err) == element.NotFoundFailure {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if typeTag != "" && current.TypeTag != typeTag {
			return nil, element.NotFound(id)
		}

		if !force {
			result, err := tx.Run(ctx, `
				MATCH (e:Element)
				WHERE $id IN e.refs AND e.id <> $id
				RETURN e.id AS id ORDER BY id
			`, map[string]any{"id": id})
			if err != nil {
				return nil, err
			}
			var referrers []string
			for result.Next(ctx) {
				v, _ := result.Record().Get("id")
				referrers = append(referrers, v.(string))
			}
			if len(referrers) > 0 {
				return nil, stillReferenced(id, referrers)
			}
		}

		_, err = tx.Run(ctx, `MATCH (e:Element {id: $id}) DETACH DELETE e`, map[string]any{"id": id})
		return nil, err
	})
	return err
}

// ListElements fetches the type's elements in creation order and
// evaluates the rest of req in memory.
func (r *Neo4jRepository) ListElements(ctx context.Context, req query.Request) (query.Page, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (e:Element)
			WHERE $typeTag = '' OR e.typeTag = $typeTag
			RETURN e
			ORDER BY e.created, e.id
		`
		result, err := tx.Run(ctx, query, map[string]any{"typeTag": req.TypeTag})
		if err != nil {
			return nil, err
		}

		var records []element.Record
		for result.Next(ctx) {
			v, _ := result.Record().Get("e")
			rec, err := decodeElement(v.(neo4j.Node))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, result.Err()
	})
	if err != nil {
		return query.Page{}, err
	}
	return query.Apply(result.([]element.Record), req), nil
}

func neo4jGet(ctx context.Context, tx neo4j.ManagedTransaction, typeTag, id string) (element.Record, error) {
	result, err := tx.Run(ctx, `MATCH (e:Element {id: $id}) RETURN e`, map[string]any{"id": id})
	if err != nil {
		return element.Record{}, err
	}
	if !result.Next(ctx) {
		return element.Record{}, element.NotFound(id)
	}
	v, _ := result.Record().Get("e")
	rec, err := decodeElement(v.(neo4j.Node))
	if err != nil {
		return element.Record{}, err
	}
	if typeTag != "" && rec.TypeTag != typeTag {
		return element.Record{}, element.NotFound(id)
	}
	return rec, nil
}

func neo4jCheckShortName(ctx context.Context, tx neo4j.ManagedTransaction, rec element.Record) error {
	short := shortNameOf(rec.Attributes)
	if short == "" {
		return nil
	}
	result, err := tx.Run(ctx, `
		MATCH (e:Element {typeTag: $typeTag, shortName: $shortName})
		WHERE e.id <> $id
		RETURN e.id AS id LIMIT 1
	`, map[string]any{"typeTag": rec.TypeTag, "shortName": short, "id": rec.ID})
	if err != nil {
		return err
	}
	if result.Next(ctx) {
		holder, _ := result.Record().Get("id")
		return duplicateShortName(rec.TypeTag, short, fmt.Sprint(holder))
	}
	return nil
}

// elementParams flattens rec into node properties. Attributes travel as
// a JSON string since Neo4j properties cannot hold nested maps.
func elementParams(rec element.Record, now time.Time) (map[string]any, error) {
	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return nil, element.Invalid(fmt.Sprintf("attributes are not JSON encodable: %v", err), nil)
	}

	var shortName any
	if s := shortNameOf(rec.Attributes); s != "" {
		shortName = s
	}

	refs := []string{}
	seen := map[string]bool{}
	for _, target := range referencesOf(rec) {
		if !seen[target] {
			seen[target] = true
			refs = append(refs, target)
		}
	}
	sort.Strings(refs)

	return map[string]any{
		"id":         rec.ID,
		"typeTag":    rec.TypeTag,
		"shortName":  shortName,
		"attributes": string(attrsJSON),
		"refs":       refs,
		"now":        now.UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeElement(node neo4j.Node) (element.Record, error) {
	id, _ := node.Props["id"].(string)
	typeTag, _ := node.Props["typeTag"].(string)
	rec := element.Record{ID: id, TypeTag: typeTag, Attributes: map[string]any{}}

	// Unmarshal attributes JSON string back to map
	if s, ok := node.Props["attributes"].(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &rec.Attributes); err != nil {
			return element.Record{}, fmt.Errorf("unmarshaling attributes of %s: %w", id, err)
		}
	}
	return rec, nil
}
