package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/resonate-home/resonate/pkg/models"
)

// DeviceFilter controls which devices are returned by List.
type DeviceFilter struct {
	Search string // Search name, model, or address.
}

// DeviceRepository provides access to the persisted speaker registry.
// Implementations must be safe for concurrent use; concurrent writes to
// distinct device identifiers must not interfere.
type DeviceRepository interface {
	// GetByID returns a single device by its stable identifier.
	// Returns ErrNotFound if no record exists.
	GetByID(ctx context.Context, deviceID string) (*models.Device, error)

	// List returns a filtered, paginated list of devices.
	List(ctx context.Context, filter DeviceFilter, opts ListOptions) (*ListResult[models.Device], error)

	// Upsert inserts the device or replaces the existing record with the
	// same identifier. The caller is responsible for merge semantics.
	Upsert(ctx context.Context, device *models.Device) error

	// Delete removes a device by identifier. This is an administrative
	// action; the sync engine never calls it.
	Delete(ctx context.Context, deviceID string) error
}

// Compile-time interface guard.
var _ DeviceRepository = (*SQLiteDeviceRepository)(nil)

// SQLiteDeviceRepository implements DeviceRepository using SQLite.
type SQLiteDeviceRepository struct {
	db *sql.DB
}

// NewSQLiteDeviceRepository creates a DeviceRepository. The devices table
// must already exist (created by the registry migrations).
func NewSQLiteDeviceRepository(db *sql.DB) *SQLiteDeviceRepository {
	return &SQLiteDeviceRepository{db: db}
}

// deviceColumns is the shared column list for device queries.
const deviceColumns = `device_id, address, name, model, firmware_version,
	capabilities, first_seen, last_seen`

func (r *SQLiteDeviceRepository) GetByID(ctx context.Context, deviceID string) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)
	d, err := scanDevice(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", deviceID, err)
	}
	return d, nil
}

func (r *SQLiteDeviceRepository) List(ctx context.Context, filter DeviceFilter, opts ListOptions) (*ListResult[models.Device], error) {
	opts = normalizeListOptions(opts)

	// Validate sortBy against allowed columns.
	sortCol := "last_seen"
	allowedSorts := map[string]string{
		"name":       "name",
		"model":      "model",
		"address":    "address",
		"last_seen":  "last_seen",
		"first_seen": "first_seen",
	}
	if opts.SortBy != "" {
		if col, ok := allowedSorts[opts.SortBy]; ok {
			sortCol = col
		}
	}

	// Build WHERE clause with parameterized placeholders.
	where := "1=1"
	var args []any

	if filter.Search != "" {
		where += " AND (name LIKE ? OR model LIKE ? OR address LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	// Count total matching rows.
	var total int
	//nolint:gosec // where uses parameterized placeholders only
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE "+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}

	queryArgs := make([]any, 0, len(args)+2)
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, opts.Limit, opts.Offset)

	orderDir := "DESC"
	if opts.SortOrder == "asc" {
		orderDir = "ASC"
	}

	//nolint:gosec // where and sortCol are validated above, not user input
	query := fmt.Sprintf(
		"SELECT %s FROM devices WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		deviceColumns, where, sortCol, orderDir,
	)

	rows, err := r.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	if devices == nil {
		devices = []models.Device{}
	}

	return &ListResult[models.Device]{Items: devices, Total: total}, nil
}

func (r *SQLiteDeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	if device.DeviceID == "" {
		return fmt.Errorf("upsert device: empty device_id")
	}
	now := time.Now().UTC()
	if device.FirstSeen.IsZero() {
		device.FirstSeen = now
	}
	if device.LastSeen.IsZero() {
		device.LastSeen = now
	}

	capsJSON := ""
	if device.Capabilities != nil {
		b, err := json.Marshal(device.Capabilities)
		if err != nil {
			return fmt.Errorf("marshal capabilities for %q: %w", device.DeviceID, err)
		}
		capsJSON = string(b)
	}

	// ON CONFLICT preserves first_seen for existing rows.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (
			device_id, address, name, model, firmware_version,
			capabilities, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			address = excluded.address,
			name = excluded.name,
			model = excluded.model,
			firmware_version = excluded.firmware_version,
			capabilities = excluded.capabilities,
			last_seen = excluded.last_seen`,
		device.DeviceID, device.Address, device.Name, device.Model, device.FirmwareVersion,
		capsJSON, device.FirstSeen, device.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("upsert device %q: %w", device.DeviceID, err)
	}
	return nil
}

func (r *SQLiteDeviceRepository) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete device %q: %w", deviceID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDevice scans one row (from *sql.Row or *sql.Rows) into a Device.
func scanDevice(scan func(dest ...any) error) (*models.Device, error) {
	var d models.Device
	var capsJSON string
	err := scan(
		&d.DeviceID, &d.Address, &d.Name, &d.Model, &d.FirmwareVersion,
		&capsJSON, &d.FirstSeen, &d.LastSeen,
	)
	if err != nil {
		return nil, err
	}
	if capsJSON != "" {
		var caps models.CapabilitySet
		if err := json.Unmarshal([]byte(capsJSON), &caps); err == nil {
			d.Capabilities = &caps
		}
	}
	return &d, nil
}
