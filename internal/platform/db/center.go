package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	CenterIDKey contextKey = "center_id"
	DBConnKey   contextKey = "db_conn"
)

// CenterHeader carries the clinic center a request is scoped to.
const CenterHeader = "X-Center-ID"

var centerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidCenterID reports whether id is safe to use as a schema suffix.
func ValidCenterID(id string) bool { return centerIDPattern.MatchString(id) }

// SchemaName returns the schema that holds a center's agenda.
func SchemaName(centerID string) string { return "center_" + centerID }

// CenterMiddleware acquires a connection per request and points its
// search_path at the center schema resolved from the JWT, the X-Center-ID
// header or the center_id query parameter.
func CenterMiddleware(pool *pgxpool.Pool, defaultCenter string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			centerID := extractCenterID(c, defaultCenter)
			if !ValidCenterID(centerID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid center identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(centerID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "center resolution failed")
			}

			ctx = WithCenter(ctx, centerID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("center_id", centerID)
			return next(c)
		}
	}
}

func extractCenterID(c echo.Context, defaultCenter string) string {
	if id, ok := c.Get("jwt_center_id").(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get(CenterHeader); id != "" {
		return id
	}
	if id := c.QueryParam("center_id"); id != "" {
		return id
	}
	return defaultCenter
}

// WithCenter stores the center id in ctx.
func WithCenter(ctx context.Context, centerID string) context.Context {
	return context.WithValue(ctx, CenterIDKey, centerID)
}

// ConnFromContext retrieves the center-scoped connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// CenterFromContext retrieves the center id from context.
func CenterFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CenterIDKey).(string)
	return id
}

// CreateCenterSchema creates the schema for a center and applies the given
// migrations to it. A nil migrations FS skips the migration step.
func CreateCenterSchema(ctx context.Context, pool *pgxpool.Pool, centerID string, migrations fs.FS) error {
	if !ValidCenterID(centerID) {
		return fmt.Errorf("invalid center identifier: %s", centerID)
	}
	schema := SchemaName(centerID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrations != nil {
		if _, err := NewMigrator(pool, migrations).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}

// RunInCenter runs fn with a connection scoped to centerID, for work that
// happens outside a request such as the conflict sweep or the CLI.
func RunInCenter(ctx context.Context, pool *pgxpool.Pool, centerID string, fn func(ctx context.Context) error) error {
	if !ValidCenterID(centerID) {
		return fmt.Errorf("invalid center identifier: %s", centerID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(centerID))); err != nil {
		return fmt.Errorf("set search_path for %s: %w", centerID, err)
	}
	ctx = WithCenter(ctx, centerID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return fn(ctx)
}

// ListCenters returns the ids of every center schema, sorted.
func ListCenters(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT substr(schema_name, 8) FROM information_schema.schemata
		 WHERE schema_name LIKE 'center\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
