// Package sqlite is the reference Store adapter backing the inbound/DLR
// handlers, maintenance runner and HTTP API in the cmd/gateway binary. It is deliberately thin: no migrations tool, no CRUD
// handlers beyond what the core needs, using a single-file schema-version
// approach rather than a full migration framework.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
)

const schemaVersion = "muxo v1"

// DB wraps sql.DB with the schema this gateway's core needs.
type DB struct {
	*sql.DB
}

// Open creates or opens a SQLite-backed Store at dbname, initializing the
// schema on first use and verifying the schema version on subsequent
// opens.
func Open(dbname string) (*DB, error) {
	sqldb, err := sql.Open("sqlite3", dbname)
	if err != nil {
		return nil, err
	}
	db := &DB{sqldb}

	needsInit := true
	if rows, err := sqldb.Query("SELECT version FROM schema_version"); err == nil {
		if rows.Next() {
			var version string
			if err := rows.Scan(&version); err == nil && version == schemaVersion {
				needsInit = false
			}
		}
		rows.Close()
	}
	if needsInit {
		if err := db.init(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) init() error {
	cmds := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			msisdn TEXT UNIQUE NOT NULL,
			opt_out INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS lists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS list_memberships (
			list_id INTEGER NOT NULL REFERENCES lists(id),
			contact_id INTEGER NOT NULL REFERENCES contacts(id),
			PRIMARY KEY (list_id, contact_id)
		);`,
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			port TEXT UNIQUE NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			template TEXT NOT NULL,
			list_id INTEGER NOT NULL REFERENCES lists(id),
			start_time TIMESTAMP NOT NULL,
			window_start TEXT,
			window_end TEXT,
			rate_limit REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id INTEGER REFERENCES campaigns(id),
			contact_id INTEGER NOT NULL REFERENCES contacts(id),
			device_id INTEGER NOT NULL REFERENCES devices(id),
			text TEXT NOT NULL,
			ref TEXT,
			status TEXT NOT NULL,
			error_code TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		"CREATE INDEX IF NOT EXISTS attempts_ref ON attempts (ref);",
		`CREATE TABLE IF NOT EXISTS inbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			msisdn TEXT NOT NULL,
			text TEXT NOT NULL,
			device_id INTEGER NOT NULL REFERENCES devices(id),
			received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		"INSERT INTO schema_version(version) VALUES('" + schemaVersion + "')",
	}
	for _, cmd := range cmds {
		if _, err := db.Exec(cmd); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	return nil
}

func (db *DB) UpsertContactByMSISDN(ctx context.Context, msisdn string) (store.Contact, error) {
	_, err := db.ExecContext(ctx, "INSERT OR IGNORE INTO contacts(msisdn) VALUES(?)", msisdn)
	if err != nil {
		return store.Contact{}, err
	}
	row := db.QueryRowContext(ctx, "SELECT id, msisdn, opt_out, created_at FROM contacts WHERE msisdn = ?", msisdn)
	var c store.Contact
	var optOut int
	var created string
	if err := row.Scan(&c.ID, &c.MSISDN, &optOut, &created); err != nil {
		return store.Contact{}, err
	}
	c.OptOut = optOut != 0
	c.Created, _ = time.Parse("2006-01-02 15:04:05", created)
	return c, nil
}

func (db *DB) SetContactOptOut(ctx context.Context, contactID int64, optOut bool) error {
	_, err := db.ExecContext(ctx, "UPDATE contacts SET opt_out = ? WHERE id = ?", boolToInt(optOut), contactID)
	return err
}

func (db *DB) GetContact(ctx context.Context, contactID int64) (store.Contact, error) {
	row := db.QueryRowContext(ctx, "SELECT id, msisdn, opt_out, created_at FROM contacts WHERE id = ?", contactID)
	var c store.Contact
	var optOut int
	var created string
	if err := row.Scan(&c.ID, &c.MSISDN, &optOut, &created); err != nil {
		return store.Contact{}, err
	}
	c.OptOut = optOut != 0
	c.Created, _ = time.Parse("2006-01-02 15:04:05", created)
	return c, nil
}

func (db *DB) ListMembersFor(ctx context.Context, listID int64) ([]store.Contact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.msisdn, c.opt_out, c.created_at
		FROM contacts c
		JOIN list_memberships m ON m.contact_id = c.id
		WHERE m.list_id = ?
		ORDER BY c.id`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Contact
	for rows.Next() {
		var c store.Contact
		var optOut int
		var created string
		if err := rows.Scan(&c.ID, &c.MSISDN, &optOut, &created); err != nil {
			return nil, err
		}
		c.OptOut = optOut != 0
		c.Created, _ = time.Parse("2006-01-02 15:04:05", created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) ListActiveDevices(ctx context.Context) ([]store.Device, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, port, active FROM devices WHERE active = 1 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Device
	for rows.Next() {
		var d store.Device
		var active int
		if err := rows.Scan(&d.ID, &d.Port, &active); err != nil {
			return nil, err
		}
		d.Active = active != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) RecordAttempt(ctx context.Context, a store.Attempt) (store.Attempt, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO attempts(campaign_id, contact_id, device_id, text, ref, status, error_code)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		a.CampaignID, a.ContactID, a.DeviceID, a.Text, a.Ref, string(a.Status), a.ErrorCode)
	if err != nil {
		return store.Attempt{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Attempt{}, err
	}
	a.ID = id
	return a, nil
}

func (db *DB) FindAttemptByRef(ctx context.Context, ref string) (*store.Attempt, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, campaign_id, contact_id, device_id, text, ref, status, error_code, created_at, updated_at
		FROM attempts WHERE ref IS NOT NULL ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		if pdu.RefsEqual(a.Ref, ref) {
			return &a, nil
		}
	}
	return nil, rows.Err()
}

func (db *DB) UpdateAttemptStatus(ctx context.Context, attemptID int64, status store.Status, errorCode *string) error {
	_, err := db.ExecContext(ctx,
		"UPDATE attempts SET status = ?, error_code = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), errorCode, attemptID)
	return err
}

func (db *DB) AppendInbox(ctx context.Context, rec store.InboundRecord) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO inbox(msisdn, text, device_id) VALUES(?, ?, ?)",
		rec.MSISDN, rec.Text, rec.DeviceID)
	return err
}

func (db *DB) PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM attempts WHERE created_at < ?", cutoff.Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) PurgeInboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM inbox WHERE received_at < ?", cutoff.Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(rows rowScanner) (store.Attempt, error) {
	var a store.Attempt
	var campaignID sql.NullInt64
	var ref, errorCode sql.NullString
	var status, created, updated string
	if err := rows.Scan(&a.ID, &campaignID, &a.ContactID, &a.DeviceID, &a.Text, &ref, &status, &errorCode, &created, &updated); err != nil {
		return store.Attempt{}, err
	}
	if campaignID.Valid {
		a.CampaignID = &campaignID.Int64
	}
	if ref.Valid {
		a.Ref = ref.String
	}
	if errorCode.Valid {
		a.ErrorCode = &errorCode.String
	}
	a.Status = store.Status(status)
	a.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
	a.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated)
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
