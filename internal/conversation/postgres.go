package conversation

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xaenox/triage-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// PostgresStore keeps conversation history in Postgres with the same
// bound and ordering semantics as MemoryStore.
type PostgresStore struct {
	db       *sql.DB
	maxTurns int
}

func NewPostgresStore(config DatabaseConfig, maxTurns int) (*PostgresStore, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	store := &PostgresStore{db: db, maxTurns: maxTurns}

	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStore) Append(ctx context.Context, key string, turn models.ConversationTurn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO conversation_turns (conversation_key, role, content, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := tx.ExecContext(ctx, insert, key, string(turn.Role), turn.Content, turn.Timestamp); err != nil {
		return fmt.Errorf("error inserting turn: %v", err)
	}

	// FIFO eviction: keep only the newest maxTurns rows for this key
	evict := `
		DELETE FROM conversation_turns
		WHERE conversation_key = $1
		AND id NOT IN (
			SELECT id FROM conversation_turns
			WHERE conversation_key = $1
			ORDER BY id DESC
			LIMIT $2
		)`

	if _, err := tx.ExecContext(ctx, evict, key, s.maxTurns); err != nil {
		return fmt.Errorf("error evicting old turns: %v", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) History(ctx context.Context, key string) ([]models.ConversationTurn, error) {
	query := `
		SELECT role, content, created_at
		FROM conversation_turns
		WHERE conversation_key = $1
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("error querying turns: %v", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var turn models.ConversationTurn
		var role string
		if err := rows.Scan(&role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning turn: %v", err)
		}
		turn.Role = models.Role(role)
		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

func (s *PostgresStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conversation_key = $1`, key); err != nil {
		return fmt.Errorf("error clearing conversation: %v", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
