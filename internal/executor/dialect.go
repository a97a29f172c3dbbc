package executor

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kyleking/fedquery/internal/types"
)

// dialect knows how to introspect one family of databases
type dialect interface {
	// driverName is the database/sql driver registered for the dialect
	driverName() string
	quoteIdent(name string) string
	listTables(ctx context.Context, db *sql.DB) ([]string, error)
	columns(ctx context.Context, db *sql.DB, table string) ([]types.Column, error)
	primaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error)
	foreignKeys(ctx context.Context, db *sql.DB, table string) ([]types.ForeignKey, error)
	indexes(ctx context.Context, db *sql.DB, table string) ([]types.Index, error)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite":
		return sqliteDialect{}, nil
	case "duckdb":
		return duckdbDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

func doubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	return out, rows.Err()
}

// groupForeignKeys folds per-column rows into one ForeignKey per constraint
func groupForeignKeys(order []string, byName map[string]*types.ForeignKey) []types.ForeignKey {
	out := make([]types.ForeignKey, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}

	return out
}

// sqlite

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }

func (sqliteDialect) quoteIdent(name string) string { return doubleQuote(name) }

func (sqliteDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
}

func (d sqliteDialect) columns(ctx context.Context, db *sql.DB, table string) ([]types.Column, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+d.quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []types.Column

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)

		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}

		col := types.Column{Name: name, Type: colType, Nullable: notNull == 0 && pk == 0, PrimaryKey: pk > 0}
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}

		cols = append(cols, col)
	}

	return cols, rows.Err()
}

func (d sqliteDialect) primaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+d.quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}

	var pks []pkCol

	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)

		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}

		if pk > 0 {
			pks = append(pks, pkCol{name, pk})
		}
	}

	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })

	out := make([]string, len(pks))
	for i, p := range pks {
		out[i] = p.name
	}

	return out, rows.Err()
}

func (d sqliteDialect) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]types.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA foreign_key_list("+d.quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var order []string

	byID := make(map[string]*types.ForeignKey)

	for rows.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)

		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}

		key := strconv.Itoa(id)

		fk, ok := byID[key]
		if !ok {
			fk = &types.ForeignKey{ReferredTable: refTable}
			byID[key] = fk
			order = append(order, key)
		}

		fk.Columns = append(fk.Columns, from)
		fk.ReferredColumns = append(fk.ReferredColumns, to.String)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return groupForeignKeys(order, byID), nil
}

func (d sqliteDialect) indexes(ctx context.Context, db *sql.DB, table string) ([]types.Index, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA index_list("+d.quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}

	var idxs []types.Index

	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)

		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}

		// primary key autoindexes are already described by the primary key
		if origin == "pk" {
			continue
		}

		idxs = append(idxs, types.Index{Name: name, Unique: unique == 1})
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range idxs {
		cols, err := d.indexColumns(ctx, db, idxs[i].Name)
		if err != nil {
			return nil, err
		}

		idxs[i].Columns = cols
	}

	sort.Slice(idxs, func(i, j int) bool { return idxs[i].Name < idxs[j].Name })

	return idxs, nil
}

func (d sqliteDialect) indexColumns(ctx context.Context, db *sql.DB, index string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA index_info("+d.quoteIdent(index)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string

	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)

		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}

		cols = append(cols, name.String)
	}

	return cols, rows.Err()
}

// information_schema based dialects

// infoSchema implements the parts shared by duckdb, postgres and mysql
type infoSchema struct {
	schemaExpr  string
	placeholder func(n int) string
}

func (s infoSchema) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = "+s.schemaExpr+
			" AND table_type = 'BASE TABLE' ORDER BY table_name")
}

func (s infoSchema) columns(ctx context.Context, db *sql.DB, table string) ([]types.Column, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT column_name, data_type, is_nullable, column_default FROM information_schema.columns"+
			" WHERE table_schema = "+s.schemaExpr+" AND table_name = "+s.placeholder(1)+
			" ORDER BY ordinal_position", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []types.Column

	for rows.Next() {
		var (
			name, dataType, nullable string
			dflt                     sql.NullString
		)

		if err := rows.Scan(&name, &dataType, &nullable, &dflt); err != nil {
			return nil, err
		}

		col := types.Column{Name: name, Type: dataType, Nullable: strings.EqualFold(nullable, "YES")}
		if dflt.Valid {
			v := dflt.String
			col.Default = &v
		}

		cols = append(cols, col)
	}

	return cols, rows.Err()
}

func (s infoSchema) primaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	return queryStrings(ctx, db,
		"SELECT kcu.column_name FROM information_schema.table_constraints tc"+
			" JOIN information_schema.key_column_usage kcu"+
			" ON tc.constraint_name = kcu.constraint_name AND tc.table_name = kcu.table_name"+
			" AND tc.table_schema = kcu.table_schema"+
			" WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = "+s.schemaExpr+
			" AND tc.table_name = "+s.placeholder(1)+
			" ORDER BY kcu.ordinal_position", table)
}

// scanForeignKeys reads (constraint, column, referred table, referred column) rows
func scanForeignKeys(rows *sql.Rows) ([]types.ForeignKey, error) {
	defer rows.Close()

	var order []string

	byName := make(map[string]*types.ForeignKey)

	for rows.Next() {
		var name, column, refTable, refColumn string
		if err := rows.Scan(&name, &column, &refTable, &refColumn); err != nil {
			return nil, err
		}

		fk, ok := byName[name]
		if !ok {
			fk = &types.ForeignKey{ReferredTable: refTable}
			byName[name] = fk
			order = append(order, name)
		}

		fk.Columns = append(fk.Columns, column)
		fk.ReferredColumns = append(fk.ReferredColumns, refColumn)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return groupForeignKeys(order, byName), nil
}

// duckdb

type duckdbDialect struct{}

var duckdbSchema = infoSchema{
	schemaExpr:  "'main'",
	placeholder: func(int) string { return "?" },
}

func (duckdbDialect) driverName() string { return "duckdb" }

func (duckdbDialect) quoteIdent(name string) string { return doubleQuote(name) }

func (duckdbDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return duckdbSchema.listTables(ctx, db)
}

func (duckdbDialect) columns(ctx context.Context, db *sql.DB, table string) ([]types.Column, error) {
	return duckdbSchema.columns(ctx, db, table)
}

func (duckdbDialect) primaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	return duckdbSchema.primaryKey(ctx, db, table)
}

var duckdbReferencePattern = regexp.MustCompile(`(?is)FOREIGN KEY\s*\(([^)]*)\)\s*REFERENCES\s+"?([\w.]+)"?\s*\(([^)]*)\)`)

// foreignKeys parses the referenced columns out of duckdb_constraints since the
// information_schema views do not expose the referred side
func (duckdbDialect) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]types.ForeignKey, error) {
	defs, err := queryStrings(ctx, db,
		"SELECT constraint_text FROM duckdb_constraints() WHERE table_name = ? AND constraint_type = 'FOREIGN KEY'"+
			" ORDER BY constraint_index", table)
	if err != nil {
		return nil, err
	}

	var fks []types.ForeignKey

	for _, def := range defs {
		m := duckdbReferencePattern.FindStringSubmatch(def)
		if m == nil {
			continue
		}

		fks = append(fks, types.ForeignKey{
			Columns:         splitIdentList(m[1]),
			ReferredTable:   m[2],
			ReferredColumns: splitIdentList(m[3]),
		})
	}

	return fks, nil
}

func (duckdbDialect) indexes(ctx context.Context, db *sql.DB, table string) ([]types.Index, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT index_name, is_unique, expressions FROM duckdb_indexes() WHERE table_name = ? ORDER BY index_name", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idxs []types.Index

	for rows.Next() {
		var (
			name        string
			unique      bool
			expressions sql.NullString
		)

		if err := rows.Scan(&name, &unique, &expressions); err != nil {
			return nil, err
		}

		idxs = append(idxs, types.Index{
			Name:    name,
			Unique:  unique,
			Columns: splitIdentList(strings.Trim(expressions.String, "[]")),
		})
	}

	return idxs, rows.Err()
}

// splitIdentList splits `a, "b", 'c'` into bare names
func splitIdentList(list string) []string {
	var out []string

	for _, part := range strings.Split(list, ",") {
		name := strings.Trim(strings.TrimSpace(part), `"'`+"`")
		if name != "" {
			out = append(out, name)
		}
	}

	return out
}

// postgres

type postgresDialect struct{}

var postgresSchema = infoSchema{
	schemaExpr:  "current_schema()",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

func (postgresDialect) driverName() string { return "pgx" }

func (postgresDialect) quoteIdent(name string) string { return doubleQuote(name) }

func (postgresDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return postgresSchema.listTables(ctx, db)
}

func (postgresDialect) columns(ctx context.Context, db *sql.DB, table string) ([]types.Column, error) {
	return postgresSchema.columns(ctx, db, table)
}

func (postgresDialect) primaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	return postgresSchema.primaryKey(ctx, db, table)
}

func (postgresDialect) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]types.ForeignKey, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name"+
			" FROM information_schema.table_constraints tc"+
			" JOIN information_schema.key_column_usage kcu"+
			" ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema"+
			" JOIN information_schema.constraint_column_usage ccu"+
			" ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema"+
			" WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = current_schema()"+
			" AND tc.table_name = $1 ORDER BY tc.constraint_name, kcu.ordinal_position", table)
	if err != nil {
		return nil, err
	}

	return scanForeignKeys(rows)
}

var postgresIndexColumns = regexp.MustCompile(`\(([^)]*)\)\s*$`)

func (postgresDialect) indexes(ctx context.Context, db *sql.DB, table string) ([]types.Index, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1"+
			" ORDER BY indexname", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idxs []types.Index

	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}

		idx := types.Index{Name: name, Unique: strings.Contains(strings.ToUpper(def), "UNIQUE INDEX")}
		if m := postgresIndexColumns.FindStringSubmatch(def); m != nil {
			idx.Columns = splitIdentList(m[1])
		}

		idxs = append(idxs, idx)
	}

	return idxs, rows.Err()
}

// mysql

type mysqlDialect struct{}

var mysqlSchema = infoSchema{
	schemaExpr:  "DATABASE()",
	placeholder: func(int) string { return "?" },
}

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return mysqlSchema.listTables(ctx, db)
}

func (mysqlDialect) columns(ctx context.Context, db *sql.DB, table string) ([]types.Column, error) {
	return mysqlSchema.columns(ctx, db, table)
}

func (mysqlDialect) primaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	return mysqlSchema.primaryKey(ctx, db, table)
}

func (mysqlDialect) foreignKeys(ctx context.Context, db *sql.DB, table string) ([]types.ForeignKey, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT constraint_name, column_name, referenced_table_name, referenced_column_name"+
			" FROM information_schema.key_column_usage"+
			" WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL"+
			" ORDER BY constraint_name, ordinal_position", table)
	if err != nil {
		return nil, err
	}

	return scanForeignKeys(rows)
}

func (mysqlDialect) indexes(ctx context.Context, db *sql.DB, table string) ([]types.Index, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT index_name, column_name, non_unique FROM information_schema.statistics"+
			" WHERE table_schema = DATABASE() AND table_name = ? AND index_name <> 'PRIMARY'"+
			" ORDER BY index_name, seq_in_index", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		idxs  []types.Index
		index = make(map[string]int)
	)

	for rows.Next() {
		var (
			name, column string
			nonUnique    int
		)

		if err := rows.Scan(&name, &column, &nonUnique); err != nil {
			return nil, err
		}

		i, ok := index[name]
		if !ok {
			i = len(idxs)
			index[name] = i
			idxs = append(idxs, types.Index{Name: name, Unique: nonUnique == 0})
		}

		idxs[i].Columns = append(idxs[i].Columns, column)
	}

	return idxs, rows.Err()
}
