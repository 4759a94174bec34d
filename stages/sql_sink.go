package stages

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/creastat/collate/core"
	"github.com/creastat/infra/telemetry"
	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DefaultSQLTable is the table records are written to when none is configured
const DefaultSQLTable = "collate_records"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLSinkConfig holds SQL sink configuration
type SQLSinkConfig struct {
	DB *sql.DB
	// Driver is the database/sql driver name: sqlite, postgres or mysql
	Driver string
	Table  string
	// WriteTimeout bounds each insert (default 10s)
	WriteTimeout time.Duration
	Logger       telemetry.Logger
}

// SQLSink stores every record it sees as a JSON row and forwards all events unchanged.
type SQLSink struct {
	config SQLSinkConfig
	insert string
}

// OpenSQL opens a connection pool for driver and checks it is reachable
func OpenSQL(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// NewSQLSink creates the sink and its table if it does not exist yet
func NewSQLSink(ctx context.Context, config SQLSinkConfig) (*SQLSink, error) {
	if config.DB == nil {
		return nil, fmt.Errorf("sql sink requires a database handle")
	}
	if config.Table == "" {
		config.Table = DefaultSQLTable
	}
	if !tableNamePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid table name %q", config.Table)
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id VARCHAR(36) PRIMARY KEY, body TEXT NOT NULL, created_at BIGINT NOT NULL)",
		config.Table,
	)
	if _, err := config.DB.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", config.Table, err)
	}

	return &SQLSink{
		config: config,
		insert: insertStatement(config.Driver, config.Table),
	}, nil
}

// insertStatement builds the insert using the driver's placeholder style
func insertStatement(driver, table string) string {
	if driver == "postgres" {
		return fmt.Sprintf("INSERT INTO %s (id, body, created_at) VALUES ($1, $2, $3)", table)
	}
	return fmt.Sprintf("INSERT INTO %s (id, body, created_at) VALUES (?, ?, ?)", table)
}

// Name returns the stage name
func (s *SQLSink) Name() string {
	return "sql_sink"
}

// InputTypes returns the input event types this stage accepts
func (s *SQLSink) InputTypes() []core.EventType {
	return []core.EventType{}
}

// OutputTypes returns the output event types this stage produces
func (s *SQLSink) OutputTypes() []core.EventType {
	return []core.EventType{core.EventTypeRecord, core.EventTypeFlush, core.EventTypeError, core.EventTypeDone}
}

// Process implements the Stage interface
func (s *SQLSink) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	logger := s.config.Logger.WithModule(s.Name())
	logger.Info("Starting SQL sink stage", telemetry.String("driver", s.config.Driver), telemetry.String("table", s.config.Table))

	written, failed := 0, 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-input:
			if !ok {
				logger.Info("SQL sink input channel closed", telemetry.Int("written", written), telemetry.Int("failed", failed))
				return nil
			}

			if record, isRecord := event.(*core.Record); isRecord {
				if err := s.write(ctx, record); err != nil {
					failed++
					sqlInsertTotal.WithLabelValues("error").Inc()
					logger.Error("Failed to write record", telemetry.Err(err))
				} else {
					written++
					sqlInsertTotal.WithLabelValues("ok").Inc()
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case output <- event:
			}
		}
	}
}

func (s *SQLSink) write(ctx context.Context, record *core.Record) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	_, err = s.config.DB.ExecContext(writeCtx, s.insert, uuid.NewString(), string(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert into %s: %w", s.config.Table, err)
	}
	return nil
}
