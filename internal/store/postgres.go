package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/haggle/backend/internal/core"
)

// PostgresStore implements Store on top of Postgres. Every query is
// parameterized; JSON-shaped columns (parsed message, listing attributes,
// event payload) are stored as jsonb.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string, maxOpen, maxIdle int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// ----------------------------------------------------------------------------
// Negotiations
// ----------------------------------------------------------------------------

const negotiationCols = "id, buy_agent_id, listing_id, state, ball, agreed_price, created_at, updated_at"

func (s *PostgresStore) GetNegotiation(ctx context.Context, id string) (*core.Negotiation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+negotiationCols+" FROM negotiations WHERE id = $1", id)
	return scanNegotiation(row)
}

func (s *PostgresStore) GetNegotiationByPair(ctx context.Context, buyAgentID, listingID string) (*core.Negotiation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+negotiationCols+" FROM negotiations WHERE buy_agent_id = $1 AND listing_id = $2",
		buyAgentID, listingID)
	return scanNegotiation(row)
}

func (s *PostgresStore) CreateNegotiation(ctx context.Context, n *core.Negotiation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO negotiations (id, buy_agent_id, listing_id, state, ball, agreed_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.BuyAgentID, n.ListingID, n.State, n.Ball, n.AgreedPrice, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert negotiation: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNegotiation(ctx context.Context, n *core.Negotiation) error {
	return updateNegotiationExec(ctx, s.db, n)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateNegotiationExec(ctx context.Context, ex execer, n *core.Negotiation) error {
	n.UpdatedAt = time.Now().UTC()
	_, err := ex.ExecContext(ctx,
		`UPDATE negotiations SET state = $2, ball = $3, agreed_price = $4, updated_at = $5 WHERE id = $1`,
		n.ID, n.State, n.Ball, n.AgreedPrice, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update negotiation: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNegotiation(row rowScanner) (*core.Negotiation, error) {
	var n core.Negotiation
	var agreed sql.NullFloat64
	err := row.Scan(&n.ID, &n.BuyAgentID, &n.ListingID, &n.State, &n.Ball, &agreed, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan negotiation: %w", err)
	}
	if agreed.Valid {
		n.AgreedPrice = &agreed.Float64
	}
	return &n, nil
}

// ----------------------------------------------------------------------------
// Messages
// ----------------------------------------------------------------------------

func (s *PostgresStore) ListMessages(ctx context.Context, negotiationID string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, negotiation_id, role, raw, parsed, created_at
		 FROM messages WHERE negotiation_id = $1 ORDER BY created_at ASC, id ASC`,
		negotiationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestMessage(ctx context.Context, negotiationID string) (*core.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, negotiation_id, role, raw, parsed, created_at
		 FROM messages WHERE negotiation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		negotiationID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m *core.Message) error {
	return insertMessageExec(ctx, s.db, m)
}

func insertMessageExec(ctx context.Context, ex execer, m *core.Message) error {
	parsed, err := json.Marshal(m.Parsed)
	if err != nil {
		return fmt.Errorf("marshal parsed message: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO messages (id, negotiation_id, role, raw, parsed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.NegotiationID, m.Role, m.Raw, parsed, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanMessage(row rowScanner) (*core.Message, error) {
	var m core.Message
	var parsed []byte
	err := row.Scan(&m.ID, &m.NegotiationID, &m.Role, &m.Raw, &parsed, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if err := json.Unmarshal(parsed, &m.Parsed); err != nil {
		return nil, fmt.Errorf("unmarshal parsed message: %w", err)
	}
	return &m, nil
}

// ----------------------------------------------------------------------------
// Listings & agents
// ----------------------------------------------------------------------------

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*core.Listing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, title, description, category, attributes, ask_price,
		        condition_notes, haggling_ammo, status, created_at
		 FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

func (s *PostgresStore) ListListings(ctx context.Context, category string) ([]core.Listing, error) {
	query := `SELECT id, seller_id, title, description, category, attributes, ask_price,
	                 condition_notes, haggling_ammo, status, created_at
	          FROM listings WHERE status = 'active'`
	args := []interface{}{}
	if category != "" {
		query += " AND category = $1"
		args = append(args, category)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []core.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func scanListing(row rowScanner) (*core.Listing, error) {
	var l core.Listing
	var attrs, notes, ammo []byte
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Category,
		&attrs, &l.AskPrice, &notes, &ammo, &l.Status, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &l.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal listing attributes: %w", err)
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &l.ConditionNotes); err != nil {
			return nil, fmt.Errorf("unmarshal condition notes: %w", err)
		}
	}
	if len(ammo) > 0 {
		if err := json.Unmarshal(ammo, &l.HagglingAmmo); err != nil {
			return nil, fmt.Errorf("unmarshal haggling ammo: %w", err)
		}
	}
	return &l, nil
}

func (s *PostgresStore) GetBuyAgent(ctx context.Context, id string) (*core.BuyAgent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, category, max_price, urgency, preferences, internal_notes, created_at
		 FROM buy_agents WHERE id = $1`, id)
	var a core.BuyAgent
	err := row.Scan(&a.ID, &a.UserID, &a.Category, &a.MaxPrice, &a.Urgency,
		&a.Preferences, &a.InternalNotes, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan buy agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetSellAgentByListing(ctx context.Context, listingID string) (*core.SellAgent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, listing_id, min_price, urgency, preferences, internal_notes, created_at
		 FROM sell_agents WHERE listing_id = $1`, listingID)
	var a core.SellAgent
	var minPrice sql.NullFloat64
	err := row.Scan(&a.ID, &a.UserID, &a.ListingID, &minPrice, &a.Urgency,
		&a.Preferences, &a.InternalNotes, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sell agent: %w", err)
	}
	if minPrice.Valid {
		a.MinPrice = &minPrice.Float64
	}
	return &a, nil
}

// ----------------------------------------------------------------------------
// Escrows
// ----------------------------------------------------------------------------

const escrowCols = "id, negotiation_id, contract_address, item_id, create_tx, deposit_tx, confirm_tx, flag_tx, update_price_tx, created_at, updated_at"

func (s *PostgresStore) GetEscrowByNegotiation(ctx context.Context, negotiationID string) (*core.Escrow, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+escrowCols+" FROM escrows WHERE negotiation_id = $1", negotiationID)
	var e core.Escrow
	err := row.Scan(&e.ID, &e.NegotiationID, &e.ContractAddress, &e.ItemID,
		&e.CreateTx, &e.DepositTx, &e.ConfirmTx, &e.FlagTx, &e.UpdatePriceTx,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan escrow: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) CreateEscrow(ctx context.Context, e *core.Escrow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO escrows (id, negotiation_id, contract_address, item_id, create_tx,
		                      deposit_tx, confirm_tx, flag_tx, update_price_tx, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.NegotiationID, e.ContractAddress, e.ItemID, e.CreateTx,
		e.DepositTx, e.ConfirmTx, e.FlagTx, e.UpdatePriceTx, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEscrow(ctx context.Context, e *core.Escrow) error {
	e.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE escrows SET create_tx = $2, deposit_tx = $3, confirm_tx = $4,
		        flag_tx = $5, update_price_tx = $6, updated_at = $7
		 WHERE id = $1`,
		e.ID, e.CreateTx, e.DepositTx, e.ConfirmTx, e.FlagTx, e.UpdatePriceTx, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Events
// ----------------------------------------------------------------------------

func (s *PostgresStore) InsertEvent(ctx context.Context, e *core.AppEvent) error {
	return insertEventExec(ctx, s.db, e)
}

func insertEventExec(ctx context.Context, ex interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, e *core.AppEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	// seq is a bigserial; read it back so pollers can cursor past this event.
	row := ex.QueryRowContext(ctx,
		`INSERT INTO app_events (id, type, negotiation_id, user_id, payload, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6) RETURNING seq`,
		e.ID, e.Type, e.NegotiationID, e.UserID, payload, e.CreatedAt)
	if err := row.Scan(&e.Seq); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEventsAfter(ctx context.Context, after int64, negotiationID string, limit int) ([]core.AppEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, seq, type, COALESCE(negotiation_id, ''), COALESCE(user_id, ''), payload, created_at
	          FROM app_events WHERE seq > $1`
	args := []interface{}{after}
	if negotiationID != "" {
		query += " AND negotiation_id = $2"
		args = append(args, negotiationID)
	}
	query += fmt.Sprintf(" ORDER BY seq ASC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []core.AppEvent
	for rows.Next() {
		var e core.AppEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &e.NegotiationID, &e.UserID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Step commit
// ----------------------------------------------------------------------------

// CommitStep wraps the three writes of one completed step in a transaction so
// a failed step never leaves an orphaned message or a stale feed.
func (s *PostgresStore) CommitStep(ctx context.Context, m *core.Message, n *core.Negotiation, e *core.AppEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin step tx: %w", err)
	}
	defer tx.Rollback()

	if m != nil {
		if err := insertMessageExec(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := updateNegotiationExec(ctx, tx, n); err != nil {
		return err
	}
	if e != nil {
		if err := insertEventExec(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit step tx: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
