package actions

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/formflowhq/formflow/internal/config"
	"github.com/formflowhq/formflow/internal/domain"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type targetConn struct {
	db     *sql.DB
	dollar bool
}

// DatabaseHandler writes submission data into external relational databases.
// Connections are registered by alias at startup; an action referencing an
// unknown alias fails without touching anything.
type DatabaseHandler struct {
	conns map[string]targetConn
}

func NewDatabaseHandler() *DatabaseHandler {
	return &DatabaseHandler{conns: map[string]targetConn{}}
}

// RegisterConnection makes a database available to actions under an alias.
// The database type decides the bind parameter style for that target.
func (h *DatabaseHandler) RegisterConnection(alias string, db *sql.DB, databaseType string) {
	h.conns[alias] = targetConn{db: db, dollar: databaseType == config.DATABASE_TYPE_POSTGRES}
}

func (h *DatabaseHandler) Execute(ctx context.Context, inv *Invocation) (Result, error) {
	var cfg domain.DatabaseActionConfig
	if err := inv.Action.DecodeConfig(&cfg); err != nil {
		return Result{}, fmt.Errorf("invalid database action config: %w", err)
	}

	target, ok := h.conns[cfg.Alias]
	if !ok {
		return Result{}, fmt.Errorf("no database connection registered for alias %q", cfg.Alias)
	}
	if err := validateIdentifiers(&cfg); err != nil {
		return Result{}, err
	}
	mark := func(i int) string {
		if target.dollar {
			return fmt.Sprintf("$%d", i)
		}
		return "?"
	}

	lookupValue := lookupSourceValue(cfg.LookupValueSource, inv)
	if lookupValue == "" {
		return Result{}, fmt.Errorf("lookup source %q resolved to an empty value", cfg.LookupValueSource)
	}

	table := cfg.Table
	if cfg.Schema != "" {
		table = cfg.Schema + "." + cfg.Table
	}

	// Deterministic column order so retries issue an identical statement.
	columns := make([]string, 0, len(cfg.ColumnMapping))
	for col := range cfg.ColumnMapping {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	values := make([]any, 0, len(columns)+1)
	setClauses := make([]string, 0, len(columns))
	for i, col := range columns {
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", col, mark(i+1)))
		values = append(values, lookupValueFor(cfg.ColumnMapping[col], inv))
	}
	values = append(values, lookupValue)

	update := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		table, strings.Join(setClauses, ", "), cfg.LookupColumn, mark(len(columns)+1))
	res, err := target.db.ExecContext(ctx, update, values...)
	if err != nil {
		return Result{}, fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	if affected > 0 {
		return Result{Success: true, Message: fmt.Sprintf("updated %d row(s) in %s", affected, table)}, nil
	}

	insertCols := append(append([]string{}, columns...), cfg.LookupColumn)
	marks := make([]string, len(insertCols))
	for i := range marks {
		marks[i] = mark(i + 1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(insertCols, ", "), strings.Join(marks, ", "))
	if _, err := target.db.ExecContext(ctx, insert, values...); err != nil {
		return Result{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	return Result{Success: true, Message: "inserted 1 row into " + table}, nil
}

// validateIdentifiers rejects any schema, table or column name that could
// smuggle SQL into the generated statement. Values always travel as bind
// parameters; identifiers cannot, so they are whitelisted instead.
func validateIdentifiers(cfg *domain.DatabaseActionConfig) error {
	check := func(kind, name string) error {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("illegal %s identifier %q", kind, name)
		}
		return nil
	}
	if cfg.Schema != "" {
		if err := check("schema", cfg.Schema); err != nil {
			return err
		}
	}
	if err := check("table", cfg.Table); err != nil {
		return err
	}
	if err := check("column", cfg.LookupColumn); err != nil {
		return err
	}
	for col := range cfg.ColumnMapping {
		if err := check("column", col); err != nil {
			return err
		}
	}
	return nil
}

// lookupSourceValue resolves where the row-matching value comes from, either
// a submission field name or a submitter.* attribute.
func lookupSourceValue(source string, inv *Invocation) string {
	return lookupValue(source, inv)
}

// lookupValueFor resolves a column mapping entry. Mappings are field names by
// default; the submitter.* prefix reaches the submitting user's attributes.
func lookupValueFor(source string, inv *Invocation) any {
	if strings.HasPrefix(source, "submitter.") {
		return submitterAttribute(strings.TrimPrefix(source, "submitter."), inv.Submitter)
	}
	if v, ok := inv.Fields[source]; ok {
		return v
	}
	return lookupValue(source, inv)
}
