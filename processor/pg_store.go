package processor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/nci/gows/utils"
)

// PGStore queries feature collections held in PostGIS tables. Each
// feature type's data_source names the table; the translated
// predicate compiles into a parameterised WHERE clause so literal
// values never enter the SQL text.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(dsn string, poolSize int, maxConns int) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		db.SetMaxIdleConns(poolSize)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &PGStore{db: db}, nil
}

func (p *PGStore) Close() error {
	return p.db.Close()
}

var sqlComparisonOps = map[string]string{
	"eq":   "=",
	"ne":   "<>",
	"gt":   ">",
	"lt":   "<",
	"gte":  ">=",
	"lte":  "<=",
	"like": "LIKE",
}

var sqlSpatialFuncs = map[string]string{
	"intersects": "ST_Intersects",
	"within":     "ST_Within",
	"contains":   "ST_Contains",
	"crosses":    "ST_Crosses",
	"touches":    "ST_Touches",
	"disjoint":   "ST_Disjoint",
	"equals":     "ST_Equals",
}

// sqlBuilder accumulates a WHERE clause and its positional
// arguments while walking a predicate tree.
type sqlBuilder struct {
	args []interface{}
}

func (b *sqlBuilder) placeholder(val interface{}) string {
	b.args = append(b.args, val)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) compile(node *utils.PredicateNode) (string, error) {
	switch node.Type {
	case utils.NodeAll:
		return "TRUE", nil

	case utils.NodeComparison:
		op, found := sqlComparisonOps[node.Operator]
		if !found {
			return "", fmt.Errorf("no SQL mapping for comparison operator %v", node.Operator)
		}
		return fmt.Sprintf("%s %s %s", pq.QuoteIdentifier(node.Field), op, b.placeholder(node.Value)), nil

	case utils.NodeSpatial:
		column := pq.QuoteIdentifier(node.Field)
		srid := utils.SRID(node.CRS)
		if node.Operator == "bbox" {
			bbox := node.Geometry.BBox()
			return fmt.Sprintf("%s && ST_MakeEnvelope(%s, %s, %s, %s, %d)",
				column,
				b.placeholder(bbox[0]), b.placeholder(bbox[1]),
				b.placeholder(bbox[2]), b.placeholder(bbox[3]),
				srid), nil
		}
		fn, found := sqlSpatialFuncs[node.Operator]
		if !found {
			return "", fmt.Errorf("no SQL mapping for spatial operator %v", node.Operator)
		}
		return fmt.Sprintf("%s(%s, ST_GeomFromText(%s, %d))",
			fn, column, b.placeholder(node.Geometry.ToWKT()), srid), nil

	case utils.NodeConjunction:
		var parts []string
		for _, child := range node.Children {
			clause, err := b.compile(child)
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, " AND ")), nil

	case utils.NodeNegation:
		clause, err := b.compile(node.Children[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", clause), nil
	}

	return "", fmt.Errorf("unknown predicate node type %v", node.Type)
}

// CompilePredicateSQL turns a translated predicate into a WHERE
// clause with positional placeholders and the matching argument
// list.
func CompilePredicateSQL(node *utils.PredicateNode) (string, []interface{}, error) {
	builder := &sqlBuilder{}
	clause, err := builder.compile(node)
	if err != nil {
		return "", nil, err
	}
	return clause, builder.args, nil
}

// buildSelect assembles the full query for a request. Geometry
// columns come back as GeoJSON so the wire format is uniform across
// encoders.
func buildSelect(geoReq *GeoFeatureRequest) (string, []interface{}, error) {
	ft := geoReq.FeatureType

	cols := []string{fmt.Sprintf("%s::text", pq.QuoteIdentifier(ft.IDField))}
	for _, field := range ft.Fields {
		if field.Name == ft.IDField {
			continue
		}
		if field.Type == utils.TypeGeometry {
			cols = append(cols, fmt.Sprintf("ST_AsGeoJSON(%s)", pq.QuoteIdentifier(field.Name)))
		} else {
			cols = append(cols, pq.QuoteIdentifier(field.Name))
		}
	}

	where, args, err := CompilePredicateSQL(geoReq.Predicate)
	if err != nil {
		return "", nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d OFFSET %d",
		strings.Join(cols, ", "), pq.QuoteIdentifier(ft.DataSource), where,
		pq.QuoteIdentifier(ft.IDField), geoReq.MaxFeatures, geoReq.StartIndex)
	return query, args, nil
}

func (p *PGStore) Query(ctx context.Context, geoReq *GeoFeatureRequest, errChan chan error) chan *utils.Feature {
	out := make(chan *utils.Feature, 100)

	go func() {
		defer close(out)

		query, args, err := buildSelect(geoReq)
		if err != nil {
			errChan <- err
			return
		}

		rows, err := p.db.QueryContext(ctx, query, args...)
		if err != nil {
			errChan <- utils.NewOWSError(utils.ExcStoreUnavailable, "", "feature store query failed: %v", err)
			return
		}
		defer rows.Close()

		ft := geoReq.FeatureType
		for rows.Next() {
			feat, err := scanFeature(rows, ft)
			if err != nil {
				errChan <- err
				return
			}

			select {
			case out <- feat:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}

		if err := rows.Err(); err != nil {
			errChan <- utils.NewOWSError(utils.ExcStoreUnavailable, "", "feature store scan failed: %v", err)
		}
	}()

	return out
}

func scanFeature(rows *sql.Rows, ft *utils.FeatureType) (*utils.Feature, error) {
	var id sql.NullString
	dest := []interface{}{&id}

	type fieldDest struct {
		field *utils.FieldDef
		dest  interface{}
	}
	var fieldDests []fieldDest

	for i := range ft.Fields {
		field := &ft.Fields[i]
		if field.Name == ft.IDField {
			continue
		}
		var d interface{}
		switch field.Type {
		case utils.TypeInteger:
			d = &sql.NullInt64{}
		case utils.TypeFloat:
			d = &sql.NullFloat64{}
		case utils.TypeDateTime:
			d = &pq.NullTime{}
		default:
			// strings and GeoJSON geometry columns
			d = &sql.NullString{}
		}
		dest = append(dest, d)
		fieldDests = append(fieldDests, fieldDest{field, d})
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, utils.NewOWSError(utils.ExcStoreUnavailable, "", "feature store scan failed: %v", err)
	}

	feat := &utils.Feature{ID: id.String, Properties: make(map[string]interface{})}
	for _, fd := range fieldDests {
		switch d := fd.dest.(type) {
		case *sql.NullInt64:
			if d.Valid {
				feat.Properties[fd.field.Name] = d.Int64
			} else {
				feat.Properties[fd.field.Name] = nil
			}
		case *sql.NullFloat64:
			if d.Valid {
				feat.Properties[fd.field.Name] = d.Float64
			} else {
				feat.Properties[fd.field.Name] = nil
			}
		case *pq.NullTime:
			if d.Valid {
				feat.Properties[fd.field.Name] = d.Time
			} else {
				feat.Properties[fd.field.Name] = nil
			}
		case *sql.NullString:
			if fd.field.Type == utils.TypeGeometry {
				if d.Valid {
					var geom utils.Geometry
					if err := geom.UnmarshalJSON([]byte(d.String)); err != nil {
						return nil, fmt.Errorf("malformed geometry for feature %v: %v", feat.ID, err)
					}
					geom.CRS = fd.field.CRS
					feat.Geometry = &geom
				}
			} else if d.Valid {
				feat.Properties[fd.field.Name] = d.String
			} else {
				feat.Properties[fd.field.Name] = nil
			}
		}
	}

	return feat, nil
}

// pg type names as reported by information_schema
var pgTypeMap = map[string]string{
	"text":        utils.TypeString,
	"varchar":     utils.TypeString,
	"bpchar":      utils.TypeString,
	"int2":        utils.TypeInteger,
	"int4":        utils.TypeInteger,
	"int8":        utils.TypeInteger,
	"float4":      utils.TypeFloat,
	"float8":      utils.TypeFloat,
	"numeric":     utils.TypeFloat,
	"timestamp":   utils.TypeDateTime,
	"timestamptz": utils.TypeDateTime,
	"date":        utils.TypeDateTime,
	"geometry":    utils.TypeGeometry,
	"geography":   utils.TypeGeometry,
}

// SchemaOf introspects the columns of a table so feature types may
// be configured without repeating the schema in config.json.
func (p *PGStore) SchemaOf(ctx context.Context, dataSource string) ([]utils.FieldDef, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT column_name, udt_name, is_nullable
		 FROM information_schema.columns
		 WHERE table_name = $1
		 ORDER BY ordinal_position`, dataSource)
	if err != nil {
		return nil, utils.NewOWSError(utils.ExcStoreUnavailable, "", "schema introspection failed: %v", err)
	}
	defer rows.Close()

	var fields []utils.FieldDef
	for rows.Next() {
		var name, udtName, nullable string
		if err := rows.Scan(&name, &udtName, &nullable); err != nil {
			return nil, err
		}
		semType, found := pgTypeMap[udtName]
		if !found {
			continue
		}
		fields = append(fields, utils.FieldDef{
			Name:     name,
			Type:     semType,
			Nullable: nullable == "YES",
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, utils.NewOWSError(utils.ExcSchemaUnavailable, "typeName", "no columns found for data source %v", dataSource)
	}
	return fields, nil
}
