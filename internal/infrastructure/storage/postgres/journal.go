package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	"ncfpos/internal/core/id"
	"ncfpos/internal/domain/numbering"
)

// CompressionAlgo names the codec of fiscal_events.details_compressed.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the details size above which they are stored zstd-compressed.
const DefaultCompressThreshold = 4 * 1024

const fiscalEventsTable = "fiscal_events"

type eventRow struct {
	ID                id.ID           `db:"id"`
	Kind              string          `db:"kind"`
	OrderID           string          `db:"order_id"`
	TypeID            int64           `db:"comprobante_type_id"`
	NCF               string          `db:"ncf"`
	TerminalID        string          `db:"terminal_id"`
	Details           json.RawMessage `db:"details"`
	DetailsCompressed []byte          `db:"details_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	CreatedAt         time.Time       `db:"created_at"`
}

var eventColumns = Columns[eventRow]()

// FiscalJournal stores numbering events in fiscal_events. It joins the caller's
// transaction when there is one.
type FiscalJournal struct {
	txm               *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var (
	_ numbering.Journal       = (*FiscalJournal)(nil)
	_ numbering.JournalReader = (*FiscalJournal)(nil)
)

// NewFiscalJournal creates the journal.
func NewFiscalJournal(txm *TxManager) (*FiscalJournal, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &FiscalJournal{
		txm:               txm,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: DefaultCompressThreshold,
	}, nil
}

// WithCompressThreshold overrides DefaultCompressThreshold.
func (j *FiscalJournal) WithCompressThreshold(bytes int) *FiscalJournal {
	j.compressThreshold = bytes
	return j
}

func (j *FiscalJournal) encode(e numbering.Event) (eventRow, error) {
	row := eventRow{
		ID:              id.New(),
		Kind:            string(e.Kind),
		OrderID:         e.OrderID,
		TypeID:          e.TypeID,
		NCF:             e.NCF,
		TerminalID:      e.TerminalID,
		CompressionAlgo: CompressionNone,
		CreatedAt:       e.At.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if len(e.Details) == 0 {
		return row, nil
	}

	details, err := json.Marshal(e.Details)
	if err != nil {
		return eventRow{}, fmt.Errorf("marshal event details: %w", err)
	}
	if len(details) > j.compressThreshold {
		row.DetailsCompressed = j.encoder.EncodeAll(details, nil)
		row.CompressionAlgo = CompressionZstd
		return row, nil
	}
	row.Details = details
	return row, nil
}

func (j *FiscalJournal) decode(row eventRow) (numbering.Event, error) {
	e := numbering.Event{
		Kind:       numbering.EventKind(row.Kind),
		OrderID:    row.OrderID,
		TypeID:     row.TypeID,
		NCF:        row.NCF,
		TerminalID: row.TerminalID,
		At:         row.CreatedAt,
	}

	raw := row.Details
	if row.CompressionAlgo == CompressionZstd && len(row.DetailsCompressed) > 0 {
		decompressed, err := j.decoder.DecodeAll(row.DetailsCompressed, nil)
		if err != nil {
			return numbering.Event{}, fmt.Errorf("decompress event details: %w", err)
		}
		raw = decompressed
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Details); err != nil {
			return numbering.Event{}, fmt.Errorf("unmarshal event details: %w", err)
		}
	}
	return e, nil
}

// Record implements numbering.Journal.
func (j *FiscalJournal) Record(ctx context.Context, e numbering.Event) error {
	row, err := j.encode(e)
	if err != nil {
		return err
	}
	query, args, err := psql.Insert(fiscalEventsTable).
		SetMap(StructToMap(row)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := j.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fiscal event: %w", err)
	}
	return nil
}

// Events implements numbering.JournalReader.
func (j *FiscalJournal) Events(ctx context.Context, orderID string) ([]numbering.Event, error) {
	query, args, err := psql.Select(eventColumns...).
		From(fiscalEventsTable).
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := j.txm.GetQuerier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fiscal events: %w", err)
	}
	defer rows.Close()

	out := make([]numbering.Event, 0)
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(
			&r.ID, &r.Kind, &r.OrderID, &r.TypeID, &r.NCF, &r.TerminalID,
			&r.Details, &r.DetailsCompressed, &r.CompressionAlgo, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fiscal event: %w", err)
		}
		e, err := j.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
